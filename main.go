package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmpoweredVote/discovery-summary/internal/config"
	"github.com/EmpoweredVote/discovery-summary/internal/db"
	"github.com/EmpoweredVote/discovery-summary/internal/logger"
	"github.com/EmpoweredVote/discovery-summary/internal/refresh"
	"github.com/EmpoweredVote/discovery-summary/internal/server"
	"github.com/EmpoweredVote/discovery-summary/internal/store"
	"github.com/EmpoweredVote/discovery-summary/internal/summary"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	// Register the feature-service backend via init()
	_ "github.com/EmpoweredVote/discovery-summary/internal/arcgis"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("load config: %v", err)
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		logger.Log.Fatalf("init logger: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalf("invalid config: %v", err)
	}
	log := logger.Component("main")

	var (
		gdb *gorm.DB
		st  *store.Store
	)
	if cfg.DatabaseURL != "" {
		gdb, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer db.Close(gdb)

		st = store.New(gdb, cfg.Pipeline.BatchSize)
		if err := st.Init(); err != nil {
			log.Fatalf("init store: %v", err)
		}
	}

	deps := refresh.Deps{DB: gdb, HTTPClient: &http.Client{Timeout: 60 * time.Second}}
	loader, err := refresh.NewLoader(cfg, deps)
	if err != nil {
		log.Fatalf("%v", err)
	}
	publisher, err := refresh.NewPublisher(cfg, deps)
	if err != nil {
		log.Fatalf("%v", err)
	}

	runner := &refresh.Runner{
		Loader:    loader,
		Publisher: publisher,
		Options: summary.Options{
			Workers:  cfg.Pipeline.Workers,
			TopWords: cfg.Pipeline.TopWords,
		},
	}
	var summaries server.SummaryStore
	if st != nil {
		runner.Recorder = st
		summaries = st
	}

	refresh.RegisterMetrics(prometheus.DefaultRegisterer)
	srv := server.New(refresh.NewJobs(runner), summaries, cfg.AdminTokenHash, prometheus.DefaultGatherer)

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("port", cfg.Port).
			WithField("source", loader.Name()).
			WithField("sink", publisher.Name()).
			Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
