package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/usecase"
)

// ReconcileTicker sweeps every unreconciled batch on an interval.
type ReconcileTicker struct {
	uc       usecase.ReconcileUseCase
	notifier adapter.Notifier
	interval time.Duration
	log      *zerolog.Logger
}

func NewReconcileTicker(uc usecase.ReconcileUseCase, notifier adapter.Notifier, interval time.Duration, logger *zerolog.Logger) *ReconcileTicker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := logger.With().Str("component", "ReconcileTicker").Logger()
	return &ReconcileTicker{uc: uc, notifier: notifier, interval: interval, log: &l}
}

func (r *ReconcileTicker) Start(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *ReconcileTicker) tick(ctx context.Context) {
	rep, err := r.uc.Reconcile(ctx, usecase.ReconcileRequest{All: true})
	if err != nil {
		r.log.Error().Err(err).Msg("reconcile sweep finished with errors")
	}
	if rep == nil {
		return
	}
	lost := rep.Unrecoverable()
	if lost != nil {
		r.log.Warn().Err(lost).Msg("batches ended without results")
	}
	if rep.Recovered == 0 && rep.Failed == 0 && err == nil && lost == nil {
		return
	}
	if nErr := r.notifier.Notify(ctx, rep.Summary()); nErr != nil {
		r.log.Warn().Err(nErr).Msg("send reconcile summary")
	}
}
