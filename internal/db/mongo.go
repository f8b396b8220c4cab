// Package db keeps an optional MongoDB catalog of archived items.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zhihu_archiver/internal/models"
)

const (
	DefaultDatabase   = "zhihu_archive"
	DefaultCollection = "items"
)

type Config struct {
	// Connection is a MongoDB URI; empty disables the catalog.
	Connection string `yaml:"connection" json:"-"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

func (c Config) Enabled() bool {
	return c.Connection != ""
}

func (c Config) WithDefaults() Config {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	return c
}

// Entry is the catalog record of one archived item.
type Entry struct {
	Kind        models.Kind `bson:"kind"`
	PlatformID  string      `bson:"platform_id"`
	URL         string      `bson:"url"`
	Title       string      `bson:"title"`
	Author      string      `bson:"author"`
	PublishedAt *time.Time  `bson:"published_at,omitempty"`
	Path        string      `bson:"path"`
	ContentHash string      `bson:"content_hash"`
	ImageCount  int         `bson:"image_count"`
	RunID       string      `bson:"run_id"`
	ArchivedAt  time.Time   `bson:"archived_at"`
}

type MongoDB struct {
	client *mongo.Client
	items  *mongo.Collection
}

func NewMongoDB(ctx context.Context, config Config) (*MongoDB, error) {
	config = config.WithDefaults()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	d := &MongoDB{
		client: client,
		items:  client.Database(config.Database).Collection(config.Collection),
	}
	if err := d.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't create indices: %w", err)
	}
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) error {
	_, err := d.items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "platform_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "archived_at", Value: 1}},
		},
	})
	return err
}

func entryFilter(kind models.Kind, platformID string) bson.M {
	return bson.M{"kind": kind, "platform_id": platformID}
}

// upsertUpdate sets every field of e and counts how often the item was
// archived.
func upsertUpdate(e *Entry) (bson.M, error) {
	data, err := bson.Marshal(e)
	if err != nil {
		return nil, err
	}
	var set bson.M
	if err := bson.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	delete(set, "_id")
	delete(set, "archived_count")

	return bson.M{
		"$set": set,
		"$inc": bson.M{"archived_count": 1},
	}, nil
}

// SaveEntry upserts e keyed by kind and platform id.
func (d *MongoDB) SaveEntry(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update, err := upsertUpdate(e)
	if err != nil {
		return fmt.Errorf("encode catalog entry: %w", err)
	}
	_, err = d.items.UpdateOne(ctx, entryFilter(e.Kind, e.PlatformID), update, options.Update().SetUpsert(true))
	return err
}

// KindCounts returns the number of catalogued items per kind.
func (d *MongoDB) KindCounts(ctx context.Context) (map[models.Kind]int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$kind"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := d.items.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Kind  models.Kind `bson:"_id"`
		Total int         `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[models.Kind]int, len(rows))
	for _, r := range rows {
		counts[r.Kind] = r.Total
	}
	return counts, nil
}

func (d *MongoDB) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
