package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/arcgis"
	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/db"
	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/store"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// CLI flags
var (
	dryRun     = flag.Bool("dry-run", false, "Compute and print the summary; publish nothing")
	confirm    = flag.Bool("confirm", false, "Required to replace the destination summary table")
	initDB     = flag.Bool("init", false, "Create the discovery schema and tables, then exit")
	importBnds = flag.Bool("import-boundaries", false, "Copy the chapter and county layers from the feature service into Postgres (needs --confirm)")
	source     = flag.String("source", "", "Override the loader backend (arcgis|postgres)")
	sink       = flag.String("sink", "", "Override the publisher backend (arcgis|postgres)")
	workers    = flag.Int("workers", 0, "Spatial join workers (0 = config)")
	asJSON     = flag.Bool("json", false, "Print dry-run rows as JSON")
	timeout    = flag.Duration("timeout", 15*time.Minute, "Abort the run after this long")
)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}
	if *source != "" {
		cfg.Source = config.BackendType(*source)
	}
	if *sink != "" {
		cfg.Sink = config.BackendType(*sink)
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		fatalf("logger: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var gdb *gorm.DB
	if cfg.DatabaseURL != "" {
		gdb, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			fatalf("connect: %v", err)
		}
		defer db.Close(gdb)
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}

	switch {
	case *initDB:
		if gdb == nil {
			fatalf("--init needs DATABASE_URL")
		}
		if err := store.New(gdb, cfg.Pipeline.BatchSize).Init(); err != nil {
			fatalf("init: %v", err)
		}
		fmt.Println("Discovery schema ready.")
		return
	case *importBnds:
		importBoundaries(ctx, cfg, gdb, httpClient)
		return
	}

	if !*dryRun && !*confirm {
		fatalf("Refusing to publish without --confirm. Add --dry-run to preview.")
	}

	deps := refresh.Deps{DB: gdb, HTTPClient: httpClient}
	loader, err := refresh.NewLoader(cfg, deps)
	if err != nil {
		fatalf("loader: %v", err)
	}
	publisher, err := refresh.NewPublisher(cfg, deps)
	if err != nil {
		fatalf("publisher: %v", err)
	}

	runner := &refresh.Runner{
		Loader:    loader,
		Publisher: publisher,
		Options: summary.Options{
			Workers:  cfg.Pipeline.Workers,
			TopWords: cfg.Pipeline.TopWords,
		},
	}
	if gdb != nil {
		runner.Recorder = store.New(gdb, cfg.Pipeline.BatchSize)
	}

	rep, err := runner.Run(ctx, *dryRun)
	if rep != nil {
		printReport(rep)
	}
	if errors.Is(err, refresh.ErrPartialPublish) {
		fmt.Fprintln(os.Stderr, "Publish finished with failures; re-run to reconcile.")
		os.Exit(3)
	}
	if err != nil {
		fatalf("refresh: %v", err)
	}
}

func importBoundaries(ctx context.Context, cfg config.Config, gdb *gorm.DB, httpClient *http.Client) {
	if gdb == nil {
		fatalf("--import-boundaries needs DATABASE_URL")
	}
	if !*confirm {
		fatalf("Refusing to replace boundary tables without --confirm.")
	}

	client := arcgis.NewClient(cfg.ArcGIS.Token, cfg.ArcGIS.RequestsPerMinute, cfg.ArcGIS.PageSize, httpClient)
	in, err := arcgis.NewSource(client, cfg.ArcGIS).LoadBoundaries(ctx)
	if err != nil {
		fatalf("fetch boundaries: %v", err)
	}

	st := store.New(gdb, cfg.Pipeline.BatchSize)
	if err := st.Init(); err != nil {
		fatalf("init: %v", err)
	}
	counts, err := st.ReplaceBoundaries(ctx, in.Chapters, in.Counties)
	if err != nil {
		fatalf("import: %v", err)
	}
	fmt.Printf("Imported chapters=%d counties=%d skipped=%d\n", counts.Chapters, counts.Counties, counts.Skipped)
}

func printReport(rep *refresh.Report) {
	if *asJSON && rep.DryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep.Rows); err != nil {
			fatalf("encode rows: %v", err)
		}
		return
	}

	s := rep.Stats
	fmt.Printf("Run %s (%s)\n", rep.RunID, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	fmt.Printf("Activities=%d unlocated=%d chapter_matches=%d county_matches=%d individuals=%d identity=%s\n",
		s.Activities, s.Unlocated, s.ChapterMatches, s.CountyMatches, s.Individuals, s.IdentityStrategy)
	for _, t := range summary.AllGeoTypes {
		fmt.Printf("  %-10s %d rows\n", t, rep.RowsByType[t])
	}
	for _, d := range rep.Diagnostics {
		fmt.Printf("  ! %s\n", d)
	}

	if rep.DryRun {
		fmt.Println()
		for _, r := range rep.Rows {
			fmt.Printf("%-10s %-40s %-40s %6d\n", r.GeoType, r.GeoName, r.ParentName, r.ActivityCount)
		}
		fmt.Println("Dry run complete. No changes made.")
		return
	}
	p := rep.Publish
	fmt.Printf("Published: deleted=%d added=%d failed_batches=%d\n", p.Deleted, p.Added, p.FailedBatches)
	for _, e := range p.Errors {
		fmt.Printf("  ! %s\n", e)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
