package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"zhihu_archiver/internal/app"
	"zhihu_archiver/internal/config"
	"zhihu_archiver/internal/db"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.New(cfg.Session, log)
	if err != nil {
		log.Error("Could not start session", "error", err)
		return 1
	}

	archiver := app.New(*cfg, sess, log)
	if cfg.Catalog.Enabled() {
		catalog, err := db.NewMongoDB(ctx, cfg.Catalog)
		if err != nil {
			log.Error("Could not open catalog", "error", err)
			return 1
		}
		defer func() { _ = catalog.Close(context.Background()) }()
		archiver.WithCatalog(catalog)
	}

	var summary *models.Summary
	for ev := range archiver.Run(ctx, cfg.Target) {
		switch ev.Type {
		case models.EventItemCompleted:
			fmt.Printf("[%d/%d] archived %s -> %s\n", ev.Index, ev.Total, ev.Item, ev.Path)
		case models.EventItemSkipped:
			fmt.Printf("[%d/%d] already archived %s\n", ev.Index, ev.Total, ev.Item)
		case models.EventItemFailed:
			fmt.Printf("[%d/%d] failed %s: %v\n", ev.Index, ev.Total, ev.Item, ev.Err)
		case models.EventRunFinished:
			summary = ev.Summary
		}
	}
	if summary == nil {
		return 1
	}

	printSummary(summary)

	switch {
	case summary.Err == nil:
		return 0
	case errors.Is(summary.Err, context.Canceled):
		fmt.Println("interrupted; run again to resume")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "run failed: %v\n", summary.Err)
		return 1
	}
}

func printSummary(summary *models.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("run %s", summary.RunID)
	t.AppendHeader(table.Row{"Discovered", "Archived", "Skipped", "Failed", "Duration"})
	t.AppendRow(table.Row{summary.Discovered, summary.Archived, summary.Skipped, summary.Failed(), summary.Duration.Round(time.Second)})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(summary.Failures) == 0 {
		return
	}
	f := table.NewWriter()
	f.SetOutputMirror(os.Stdout)
	f.AppendHeader(table.Row{"Item", "URL", "Reason"})
	for _, failure := range summary.Failures {
		f.AppendRow(table.Row{failure.Item.Key(), failure.Item.CanonicalURL, failure.Reason})
	}
	f.SetStyle(table.StyleRounded)
	f.Render()
}
