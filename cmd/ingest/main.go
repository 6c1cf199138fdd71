package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/dre-reports/internal/app"
	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/pipeline"
)

func main() {
	log := logger.New()

	var (
		configFile = flag.String("config", "", "Path to config.yaml (optional)")
		filePath   = flag.String("file", "", "Local spreadsheet to ingest")
		rawURL     = flag.String("url", "", "URL to download the spreadsheet from")
		gcsURI     = flag.String("gcs-uri", "", "GCS URI of the spreadsheet (e.g. gs://bucket/uploads/dre.xlsx)")
		batchID    = flag.String("batch-id", "", "Batch id (defaults to a hash of the file content)")
	)
	flag.Parse()

	set := 0
	for _, v := range []string{*filePath, *rawURL, *gcsURI} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		log.Fatal().Msg("Error: --file, --url and --gcs-uri are mutually exclusive")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var src fetcher.Source
	switch {
	case *filePath != "":
		data, err := os.ReadFile(*filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read file")
		}
		src = fetcher.Upload(filepath.Base(*filePath), data)
	case *gcsURI != "":
		src = fetcher.Blob(*gcsURI)
	case *rawURL != "":
		src = fetcher.URL(*rawURL)
	case cfg.Fetch.DefaultURL != "":
		src = fetcher.URL(cfg.Fetch.DefaultURL)
	default:
		log.Fatal().Msg("Error: one of --file, --url or --gcs-uri is required")
	}

	// Create context with timeout so the command doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	log.Info().Str("source", src.String()).Msg("Starting ingestion")

	res, err := a.Ingestor.Ingest(ctx, pipeline.Request{Source: src, BatchID: *batchID})
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}
}
