package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"papervenue/internal/bankruptcy"
	"papervenue/internal/config"
	"papervenue/internal/dlock"
	"papervenue/internal/margin"
	"papervenue/internal/orders"
	"papervenue/internal/settlement"
)

// Runner owns the background cadence of the venue: tick-driven trigger
// detection, the per-minute executor, and the daily housekeeping jobs.
type Runner struct {
	orders *orders.Service
	margin *margin.Service
	bank   *bankruptcy.Service
	sched  *settlement.Scheduler
	locks  *dlock.Service
	cfg    config.Trading
	log    zerolog.Logger
}

func NewRunner(ordersSvc *orders.Service, marginSvc *margin.Service, bank *bankruptcy.Service, sched *settlement.Scheduler, locks *dlock.Service, cfg config.Trading, log zerolog.Logger) *Runner {
	return &Runner{orders: ordersSvc, margin: marginSvc, bank: bank, sched: sched, locks: locks, cfg: cfg, log: log}
}

// Start launches every loop; all of them stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.sched.Run(ctx)

	go r.every(ctx, r.cfg.TickInterval, "trigger scan", func(ctx context.Context) error {
		// equity quotes only move during the session
		if r.cfg.OutsideTradingHours(time.Now()) {
			return nil
		}
		return r.orders.TriggerScan(ctx)
	})
	go r.every(ctx, time.Minute, "execute triggered", r.orders.ExecuteTriggered)
	go r.every(ctx, time.Minute, "bankruptcy check", r.bank.CheckAll)
	go r.every(ctx, time.Hour, "lock sweep", r.locks.Sweep)

	go r.daily(ctx, 9, 0, "expire scan", r.orders.ExpireScan)
	go r.daily(ctx, 9, 0, "bankruptcy reset", func(ctx context.Context) error {
		return r.bank.ResetDue(ctx, time.Now())
	})
	go r.daily(ctx, 0, 1, "interest accrual", func(ctx context.Context) error {
		return r.margin.AccrueDailyInterest(ctx, time.Now())
	})
	go r.daily(ctx, 0, 5, "settlement sweep", r.sched.ProcessDue)
}

func (r *Runner) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := fn(ctx); err != nil {
				r.log.Error().Err(err).Str("task", name).Msg("task failed")
			}
		}
	}
}

func (r *Runner) daily(ctx context.Context, hour, minute int, name string, fn func(context.Context) error) {
	for {
		wait := untilNext(time.Now(), hour, minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := fn(ctx); err != nil {
				r.log.Error().Err(err).Str("task", name).Msg("task failed")
			}
		}
	}
}

func untilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
