package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/dre-reports/internal/fetcher"
	"github.com/dvloznov/dre-reports/internal/pipeline"
	"github.com/dvloznov/dre-reports/internal/storage"
	"github.com/spf13/cobra"
)

const ingestTimeout = 5 * time.Minute

func newIngestCmd(c *cli) *cobra.Command {
	var filePath, rawURL, gcsURI, batchID string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a spreadsheet from a file, URL or GCS object",
		Long: `Ingest fetches a DRE spreadsheet, normalizes its rows and loads them as one
batch. Without a source flag the configured download URL is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sourceFromFlags(filePath, rawURL, gcsURI, c.cfg.Fetch.DefaultURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
			defer cancel()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			res, err := a.Ingestor.Ingest(ctx, pipeline.Request{Source: src, BatchID: batchID})
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Local spreadsheet (.xlsx, .xls or .csv)")
	cmd.Flags().StringVar(&rawURL, "url", "", "URL to download the spreadsheet from")
	cmd.Flags().StringVar(&gcsURI, "gcs-uri", "", "GCS URI of the spreadsheet")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch id (defaults to a hash of the content)")
	cmd.MarkFlagsMutuallyExclusive("file", "url", "gcs-uri")
	return cmd
}

func sourceFromFlags(filePath, rawURL, gcsURI, defaultURL string) (fetcher.Source, error) {
	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fetcher.Source{}, fmt.Errorf("read %s: %w", filePath, err)
		}
		return fetcher.Upload(filepath.Base(filePath), data), nil
	case gcsURI != "":
		if _, _, err := storage.ParseURI(gcsURI); err != nil {
			return fetcher.Source{}, err
		}
		return fetcher.Blob(gcsURI), nil
	case rawURL != "":
		return fetcher.URL(rawURL), nil
	case defaultURL != "":
		return fetcher.URL(defaultURL), nil
	}
	return fetcher.Source{}, errors.New("one of --file, --url or --gcs-uri is required (no default download url configured)")
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "Batch:     %s\n", res.BatchID)
	fmt.Fprintf(w, "Execution: %s\n", res.ExecutionID)
	if res.ArchiveURI != "" {
		fmt.Fprintf(w, "Archived:  %s\n", res.ArchiveURI)
	}
	fmt.Fprintf(w, "Records: %d  Loaded: %d  Skipped: %d  Rejected: %d\n",
		res.Records, res.Loaded, res.Skipped, res.Rejected)
	for _, r := range res.Rejections {
		fmt.Fprintf(w, "  row %d: %s %q: %s\n", r.Row, r.Field, r.Value, r.Reason)
	}
}

func newUploadCmd(c *cli) *cobra.Command {
	var (
		filePath string
		ingest   bool
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a spreadsheet to the configured bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return errors.New("--file is required")
			}
			if c.cfg.Storage.Bucket == "" {
				return errors.New("storage.bucket (GCS_BUCKET) is not configured")
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read %s: %w", filePath, err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
			defer cancel()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			object := storage.UploadObjectName(c.cfg.Storage.Prefix, filepath.Base(filePath), time.Now())
			uri, err := a.Blobs.Put(ctx, object, data, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s\n", filePath, uri)

			if !ingest {
				return nil
			}
			src := fetcher.Blob(uri)
			src.Name = filepath.Base(filePath)
			res, err := a.Ingestor.Ingest(ctx, pipeline.Request{Source: src})
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Local spreadsheet to upload")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "Ingest the object after uploading it")
	return cmd
}
