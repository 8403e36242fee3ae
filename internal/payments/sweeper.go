package payments

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// SweepInvoicesArgs is the (empty) payload of the periodic sweep job.
type SweepInvoicesArgs struct{}

func (SweepInvoicesArgs) Kind() string { return "sweep_invoices" }

// SweepWorker runs the stale-PENDING-invoice sweep on a schedule, catching
// payments whose webhook never arrived.
type SweepWorker struct {
	river.WorkerDefaults[SweepInvoicesArgs]
	svc *Service
	log *slog.Logger
}

func NewSweepWorker(svc *Service, log *slog.Logger) *SweepWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SweepWorker{svc: svc, log: log}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepInvoicesArgs]) error {
	return w.svc.SweepStale(ctx)
}
