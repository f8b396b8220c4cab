// Package config loads the archiver's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"zhihu_archiver/internal/db"
	"zhihu_archiver/internal/discover"
	"zhihu_archiver/internal/fetcher"
	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/output"
	"zhihu_archiver/internal/session"
)

const (
	DefaultOutputRoot = "output"
	DefaultFlushEvery = 1
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Target          models.CrawlTarget `yaml:"target"`
	OutputDir       string             `yaml:"output_dir"`
	DownloadImages  bool               `yaml:"download_images"`
	Comments        bool               `yaml:"comments"`
	Headless        bool               `yaml:"headless"`
	RefreshManifest bool               `yaml:"refresh_manifest"`
	FlushEvery      int                `yaml:"flush_every"`

	Fetch     fetcher.Config  `yaml:"fetch"`
	Discovery discover.Config `yaml:"discovery"`
	Session   session.Config  `yaml:"session"`
	Catalog   db.Config       `yaml:"catalog"`
	Logging   logger.Config   `yaml:"logging"`
}

// Default is the configuration a file's keys are applied on top of.
func Default() Config {
	return Config{
		DownloadImages: true,
		FlushEvery:     DefaultFlushEvery,
		Fetch:          fetcher.Defaults(),
		Session: session.Config{
			CookiesFile: "browser_data/cookies.json",
		},
		Logging: logger.Config{Level: "info", Encoding: "console"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithDefaults fills derived and zero-valued settings.
func (c Config) WithDefaults() Config {
	c.Fetch = c.Fetch.WithDefaults()
	c.Discovery = c.Discovery.WithDefaults()
	c.Catalog = c.Catalog.WithDefaults()
	if c.FlushEvery < 1 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir(c.Target)
	}
	c.Session.Headless = c.Headless
	c.Session.RequestTimeout = c.Fetch.RequestTimeout
	return c
}

// DefaultOutputDir names the output directory after the target:
// output/<token>, output/question_<id> or output/<kind>_<id>.
func DefaultOutputDir(t models.CrawlTarget) string {
	var name string
	switch t.Scope {
	case models.ScopeUser:
		if token, err := links.MemberToken(t.ScopeKey); err == nil {
			name = token
		}
	case models.ScopeQuestion:
		if qid, err := links.QuestionID(t.ScopeKey); err == nil {
			name = "question_" + qid
		}
	case models.ScopeSingleItem:
		if id, err := links.ParseItemURL(t.ScopeKey); err == nil {
			name = string(id.Kind) + "_" + id.PlatformID
		}
	}
	if name == "" {
		name = output.Sanitize(t.ScopeKey)
	}
	return filepath.Join(DefaultOutputRoot, name)
}

func (c Config) Validate() error {
	var errs []error
	t := c.Target

	switch t.Scope {
	case models.ScopeUser:
		if _, err := links.MemberToken(t.ScopeKey); err != nil {
			errs = append(errs, fmt.Errorf("target.key: %w", err))
		}
	case models.ScopeQuestion:
		if _, err := links.QuestionID(t.ScopeKey); err != nil {
			errs = append(errs, fmt.Errorf("target.key: %w", err))
		}
	case models.ScopeSingleItem:
		if _, err := links.ParseItemURL(t.ScopeKey); err != nil {
			errs = append(errs, fmt.Errorf("target.key: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("target.scope: unknown scope %q", t.Scope))
	}
	if t.Filters.OnlyAnswers && t.Filters.OnlyArticles {
		errs = append(errs, errors.New("target: only_answers and only_articles are exclusive"))
	}
	if t.Filters.ItemLimit < 0 {
		errs = append(errs, errors.New("target.item_limit: must not be negative"))
	}

	f := c.Fetch
	if f.DelayMin < 0 || f.DelayMin > f.DelayMax {
		errs = append(errs, fmt.Errorf("fetch: delay_min %s must be within [0, delay_max %s]", f.DelayMin, f.DelayMax))
	}
	if f.AssetDelayMin < 0 || f.AssetDelayMin > f.AssetDelayMax {
		errs = append(errs, fmt.Errorf("fetch: asset_delay_min %s must be within [0, asset_delay_max %s]", f.AssetDelayMin, f.AssetDelayMax))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir: must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Snapshot is the run configuration recorded in progress.json.
type Snapshot struct {
	Target         string         `json:"target"`
	Filters        models.Filters `json:"filters"`
	DownloadImages bool           `json:"download_images"`
	Comments       bool           `json:"comments"`
	Headless       bool           `json:"headless"`
	DelayMin       string         `json:"delay_min"`
	DelayMax       string         `json:"delay_max"`
	ChallengeMax   int            `json:"challenge_max_attempts"`
	RespectRobots  bool           `json:"respect_robots"`
	Catalog        *db.Config     `json:"catalog,omitempty"`
}

func (c Config) Snapshot() Snapshot {
	s := Snapshot{
		Target:         links.TargetKey(c.Target),
		Filters:        c.Target.Filters,
		DownloadImages: c.DownloadImages,
		Comments:       c.Comments,
		Headless:       c.Headless,
		DelayMin:       c.Fetch.DelayMin.String(),
		DelayMax:       c.Fetch.DelayMax.String(),
		ChallengeMax:   c.Fetch.ChallengeMaxAttempts,
		RespectRobots:  c.Fetch.RespectRobots,
	}
	if c.Catalog.Enabled() {
		catalog := c.Catalog
		s.Catalog = &catalog
	}
	return s
}
