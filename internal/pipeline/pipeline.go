// Package pipeline ingests DRE spreadsheets: fetch, archive, parse and
// normalize, then load, with every attempt recorded as an ingestion run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/dre-reports/internal/domain"
	"github.com/dvloznov/dre-reports/internal/logger"
	"github.com/dvloznov/dre-reports/internal/normalize"
	"github.com/dvloznov/dre-reports/internal/parser"
	"github.com/dvloznov/dre-reports/internal/storage"
	"github.com/google/uuid"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		start := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Str("step", step.Name()).Dur("duration", time.Since(start)).Msg("Pipeline step done")
	}
	return nil
}

// Deps are the collaborators of an Ingestor. Blobs may be nil.
type Deps struct {
	Fetcher Fetcher
	Parser  *parser.Parser
	Loader  Loader
	Runs    RunTracker
	Blobs   storage.BlobStore
	Prefix  string
}

// Ingestor runs the standard ingestion pipeline and tracks each run.
type Ingestor struct {
	runs     RunTracker
	pipeline *Pipeline
	newID    func() string
}

// NewIngestor wires the fetch, archive, parse and load steps.
func NewIngestor(deps Deps) *Ingestor {
	return &Ingestor{
		runs: deps.Runs,
		pipeline: NewPipeline(
			&FetchStep{Fetcher: deps.Fetcher},
			&ArchiveStep{Blobs: deps.Blobs, Prefix: deps.Prefix},
			&ParseStep{Parser: deps.Parser, Normalizer: normalize.New()},
			&LoadStep{Loader: deps.Loader},
		),
		newID: uuid.NewString,
	}
}

// Ingest runs one ingestion. The returned Result is non-nil whenever the
// run was started, including failed runs, so callers can report counts.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	executionID := i.newID()
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"execution_id": executionID,
		"source":       req.Source.String(),
	})
	ctx = logger.WithContext(ctx, log)

	run := &domain.IngestionRun{
		ID:      executionID,
		BatchID: req.BatchID,
		Source:  req.Source.String(),
	}
	if err := i.runs.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("Ingest: start run: %w", err)
	}

	state := &PipelineState{
		Source:      req.Source,
		BatchID:     req.BatchID,
		ExecutionID: executionID,
	}
	execErr := i.pipeline.Execute(ctx, state)

	result := resultOf(state)
	run.BatchID = state.BatchID
	run.Loaded = state.Load.Inserted
	run.Rejected = len(state.Rejections)
	if execErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = execErr.Error()
	} else {
		run.Status = domain.RunStatusSuccess
	}

	// A cancelled request must not leave the run RUNNING.
	finishCtx := context.WithoutCancel(ctx)
	if err := i.runs.FinishRun(finishCtx, run); err != nil {
		log.Error().Err(err).Msg("Failed to record run outcome")
		if execErr == nil {
			return result, fmt.Errorf("Ingest: finish run: %w", err)
		}
	}

	if execErr != nil {
		log.Error().Err(execErr).Int("rejected", run.Rejected).Msg("Ingestion failed")
		return result, fmt.Errorf("Ingest: %w", execErr)
	}

	log.Info().
		Str("batch_id", state.BatchID).
		Int("records", state.Records).
		Int("loaded", state.Load.Inserted).
		Int("skipped", state.Load.Skipped).
		Int("rejected", run.Rejected).
		Msg("Ingestion succeeded")
	return result, nil
}

func resultOf(state *PipelineState) *Result {
	res := &Result{
		ExecutionID: state.ExecutionID,
		BatchID:     state.BatchID,
		ArchiveURI:  state.ArchiveURI,
		Records:     state.Records,
		Loaded:      state.Load.Inserted,
		Skipped:     state.Load.Skipped,
		Rejected:    len(state.Rejections),
		Rejections:  state.Rejections,
	}
	if state.Payload != nil {
		res.SourceName = state.Payload.Name
	}
	if len(res.Rejections) > MaxReportedRejections {
		res.Rejections = res.Rejections[:MaxReportedRejections]
	}
	if res.Rejections == nil {
		res.Rejections = []domain.Rejection{}
	}
	return res
}
