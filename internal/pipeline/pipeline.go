// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/retry"
	"github.com/tombee/docrelay/internal/table"
)

const tracerName = "github.com/tombee/docrelay/internal/pipeline"

// DefaultMaxBatchOps is the default per-batch operation ceiling.
const DefaultMaxBatchOps = 100

// Result summarizes a finished build.
type Result struct {
	DocumentID string
	Rows       int
	Columns    int
	Batches    int
}

// Pipeline builds documents at one destination.
type Pipeline struct {
	dest     Destination
	retry    *retry.Executor
	maxOps   int
	logger   *slog.Logger
	tracer   trace.Tracer
	parseOpt table.Options
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithDelimiter sets the input field delimiter.
func WithDelimiter(r rune) Option {
	return func(p *Pipeline) { p.parseOpt.Comma = r }
}

// New returns a Pipeline that applies batches of at most maxOps operations
// to dest through exec.
func New(dest Destination, exec *retry.Executor, maxOps int, logger *slog.Logger, opts ...Option) *Pipeline {
	if maxOps <= 0 {
		maxOps = DefaultMaxBatchOps
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		dest:   dest,
		retry:  exec,
		maxOps: maxOps,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run parses input and builds a new document from it. Input is parsed
// before anything remote happens, so empty or malformed input never
// creates a document. The create call is not retried; every later stage
// is, and a failure there returns a *PartialWriteError.
func (p *Pipeline) Run(ctx context.Context, spec DocumentSpec, input io.Reader) (res *Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("destination", p.dest.Name()),
		attribute.String("addressing", p.dest.Addressing().String()),
	))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = outcomeFor(err)
			span.RecordError(redact.Error(err))
			span.SetStatus(codes.Error, redact.String(err.Error()))
		}
		runsTotal.WithLabelValues(p.dest.Name(), outcome).Inc()
		runDuration.WithLabelValues(p.dest.Name(), outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	rows, err := table.Read(input, p.parseOpt)
	if err != nil {
		return nil, err
	}

	plan, err := BuildPlan(rows, p.dest.Addressing())
	if err != nil {
		return nil, err
	}
	batches := Partition(plan.Edits, p.maxOps)
	span.SetAttributes(
		attribute.Int("table.rows", plan.Rows),
		attribute.Int("table.columns", plan.Columns),
		attribute.Int("batches", len(batches)),
	)

	docID, err := p.create(ctx, spec)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", docID))
	logger := log.WithDocument(p.logger, docID)
	logger.Info("document created",
		slog.Int("rows", plan.Rows),
		slog.Int("columns", plan.Columns),
		slog.Int("batches", len(batches)),
	)

	if err := p.apply(ctx, docID, Batch{Kind: KindStructure, Plan: plan}); err != nil {
		return nil, &PartialWriteError{DocumentID: docID, Stage: KindStructure.String(), Cause: err}
	}

	for i, edits := range batches {
		batch := Batch{Kind: KindCells, Plan: plan, Edits: edits, Seq: i + 1, Total: len(batches)}
		if err := p.apply(ctx, docID, batch); err != nil {
			return nil, &PartialWriteError{
				DocumentID: docID,
				Stage:      fmt.Sprintf("cell batch %d/%d", batch.Seq, batch.Total),
				Cause:      err,
			}
		}
		logger.Debug("cell batch applied", slog.Int("seq", batch.Seq), slog.Int("total", batch.Total))
	}

	if err := p.apply(ctx, docID, Batch{Kind: KindPostProcess, Plan: plan}); err != nil {
		return nil, &PartialWriteError{DocumentID: docID, Stage: KindPostProcess.String(), Cause: err}
	}

	if fin, ok := p.dest.(Finalizer); ok {
		err := p.retry.Do(ctx, "finalize", func(ctx context.Context) error {
			return fin.Finalize(ctx, docID, plan)
		})
		if err != nil {
			return nil, &PartialWriteError{DocumentID: docID, Stage: "finalize", Cause: err}
		}
	}

	cellsTotal.WithLabelValues(p.dest.Name()).Add(float64(plan.Cells()))
	batchesPerRun.WithLabelValues(p.dest.Name()).Observe(float64(len(batches)))
	logger.Info("document complete", log.Duration("elapsed", time.Since(start)))

	return &Result{
		DocumentID: docID,
		Rows:       plan.Rows,
		Columns:    plan.Columns,
		Batches:    len(batches),
	}, nil
}

func (p *Pipeline) create(ctx context.Context, spec DocumentSpec) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.create")
	defer span.End()

	docID, err := p.dest.Create(ctx, spec)
	if err != nil {
		return "", redact.Error(err)
	}
	if docID == "" {
		return "", errors.New("failed to create document: destination returned no document id")
	}
	return docID, nil
}

func (p *Pipeline) apply(ctx context.Context, docID string, batch Batch) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.apply", trace.WithAttributes(
		attribute.String("batch.kind", batch.Kind.String()),
		attribute.Int("batch.seq", batch.Seq),
		attribute.Int("batch.ops", BatchOps(batch.Edits)),
	))
	defer span.End()

	err := p.retry.Do(ctx, batch.Kind.String(), func(ctx context.Context) error {
		return p.dest.Apply(ctx, docID, batch)
	})
	if err != nil {
		span.SetStatus(codes.Error, redact.String(err.Error()))
	}
	return err
}

func outcomeFor(err error) string {
	var partial *PartialWriteError
	var parse *table.ParseError
	switch {
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.As(err, &parse):
		return "parse_error"
	case errors.As(err, &partial):
		return "partial"
	default:
		return "create_failed"
	}
}
