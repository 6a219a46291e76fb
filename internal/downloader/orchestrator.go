package downloader

import (
	"context"
	"fmt"

	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/storage"
	"github.com/italolelis/model_provisioner/internal/telemetry"
	"github.com/italolelis/model_provisioner/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// Resolver turns a request into a fetch plan.
type Resolver interface {
	Resolve(ctx context.Context, req transfer.Request) (*transfer.Plan, error)
}

// PlanAcquirer fetches a plan. It reports failures in the outcome.
type PlanAcquirer interface {
	Acquire(ctx context.Context, plan *transfer.Plan) *transfer.Outcome
}

// Orchestrator runs a batch of requests of one provider kind on a bounded
// worker pool.
type Orchestrator struct {
	resolver    Resolver
	acquirer    PlanAcquirer
	repo        storage.OutcomeWriteRepository
	tel         *telemetry.Telemetry
	maxParallel int
	runID       string
}

// NewOrchestrator creates an orchestrator. repo may be nil, in which case
// outcomes are not written to the ledger.
func NewOrchestrator(
	resolver Resolver,
	acquirer PlanAcquirer,
	repo storage.OutcomeWriteRepository,
	tel *telemetry.Telemetry,
	maxParallel int,
	runID string,
) *Orchestrator {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Orchestrator{
		resolver:    resolver,
		acquirer:    acquirer,
		repo:        repo,
		tel:         tel,
		maxParallel: maxParallel,
		runID:       runID,
	}
}

// RunBatch resolves every request, acquires the resolved plans with at most
// maxParallel in flight and waits for all of them. One failing item never
// cancels its siblings. The batch succeeds only if every item did.
func (o *Orchestrator) RunBatch(ctx context.Context, kind transfer.Kind, requests []transfer.Request) *transfer.BatchOutcome {
	batch := &transfer.BatchOutcome{Kind: kind, Total: len(requests), Succeeded: true}

	ctx, logger := logctx.With(ctx, "kind", kind.String())

	if len(requests) == 0 {
		logger.Debug("no downloads configured")

		return batch
	}

	logger.Info("starting downloads", "total", len(requests), "max_parallel", o.maxParallel)

	_ = o.tel.InstrumentBatch(ctx, kind.String(), func(ctx context.Context) error {
		batch.Outcomes = o.run(ctx, requests)

		return nil
	})

	for _, out := range batch.Outcomes {
		o.record(ctx, out)

		if !out.Succeeded {
			batch.Succeeded = false
			batch.Failed = append(batch.Failed, out.Request)
		}
	}

	status := "success"
	if !batch.Succeeded {
		status = "error"
	}

	o.tel.RecordBatch(ctx, kind.String(), status)

	if batch.Succeeded {
		logger.Info("all downloads completed", "total", batch.Total)

		return batch
	}

	logger.Error("downloads failed", "failed", len(batch.Failed), "succeeded", batch.SucceededCount(), "total", batch.Total)

	for _, req := range batch.Failed {
		logger.Error("failed download", "url", req.SourceURL, "destination", req.Destination)
	}

	return batch
}

func (o *Orchestrator) run(ctx context.Context, requests []transfer.Request) []*transfer.Outcome {
	outcomes := make([]*transfer.Outcome, len(requests))
	plans := o.resolveAll(ctx, requests, outcomes)

	var g errgroup.Group

	g.SetLimit(o.maxParallel)

	for i, plan := range plans {
		if plan == nil {
			continue
		}

		g.Go(func() error {
			outcomes[i] = o.acquire(ctx, plan)

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// resolveAll resolves requests with the same concurrency bound as the
// transfers. A request that fails to resolve gets a failed outcome and a nil
// plan.
func (o *Orchestrator) resolveAll(ctx context.Context, requests []transfer.Request, outcomes []*transfer.Outcome) []*transfer.Plan {
	logger := logctx.LoggerFromContext(ctx)
	plans := make([]*transfer.Plan, len(requests))

	var g errgroup.Group

	g.SetLimit(o.maxParallel)

	for i, req := range requests {
		g.Go(func() error {
			plan, err := o.resolve(ctx, req)
			if err != nil {
				logger.Error("failed to resolve download", "url", req.SourceURL, "destination", req.Destination, "err", err)

				outcomes[i] = &transfer.Outcome{Request: req, LastError: err.Error()}

				return nil
			}

			plans[i] = plan

			return nil
		})
	}

	_ = g.Wait()

	return plans
}

func (o *Orchestrator) resolve(ctx context.Context, req transfer.Request) (plan *transfer.Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, fmt.Errorf("resolver panicked: %v", r)
		}
	}()

	return o.resolver.Resolve(ctx, req)
}

func (o *Orchestrator) acquire(ctx context.Context, plan *transfer.Plan) (out *transfer.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("download panicked", "url", plan.FetchURL, "panic", r)

			out = &transfer.Outcome{Request: plan.Request, FinalPath: plan.FinalPath, LastError: fmt.Sprintf("panic: %v", r)}
		}
	}()

	out = o.acquirer.Acquire(ctx, plan)
	if out == nil {
		out = &transfer.Outcome{Request: plan.Request, FinalPath: plan.FinalPath, LastError: "no outcome reported"}
	}

	return out
}

func (o *Orchestrator) record(ctx context.Context, out *transfer.Outcome) {
	if o.repo == nil {
		return
	}

	rec := &storage.OutcomeRecord{
		RunID:       o.runID,
		InstanceID:  InstanceID(),
		Kind:        out.Request.Kind.String(),
		SourceURL:   out.Request.SourceURL,
		Destination: out.Request.Destination,
		FinalPath:   out.FinalPath,
		Status:      out.Status(),
		Attempts:    out.Attempts,
		Bytes:       out.Bytes,
		Duration:    out.Duration,
		LastError:   out.LastError,
	}

	if err := o.repo.RecordOutcome(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record outcome", "url", out.Request.SourceURL, "err", err)
	}
}
