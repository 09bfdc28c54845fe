// Package expiry runs the periodic subscription sweep that downgrades lapsed
// accounts and tells their owners.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"staging-backend/ledger"
)

type Checker interface {
	CheckAll(ctx context.Context) (*ledger.CheckReport, error)
}

type Notifier interface {
	SendDowngradeNotice(to string) error
}

type Sweeper struct {
	checker  Checker
	notify   Notifier
	schedule string
}

// New validates schedule (standard cron syntax or a descriptor such as
// "@every 1h"). notify may be nil.
func New(checker Checker, notify Notifier, schedule string) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{checker: checker, notify: notify, schedule: schedule}, nil
}

// Run sweeps on the schedule until ctx is done. A sweep still running when
// the next one is due is not overlapped.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	log.Info().Str("schedule", s.schedule).Msg("[EXPIRY] sweeper started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("[EXPIRY] sweeper stopped")
	return nil
}

// Sweep checks every account once and mails users that were downgraded.
func (s *Sweeper) Sweep(ctx context.Context) (*ledger.CheckReport, error) {
	start := time.Now()
	report, err := s.checker.CheckAll(ctx)
	var partial *ledger.PartialBatchFailure
	if err != nil && !errors.As(err, &partial) {
		log.Error().Err(err).Msg("[EXPIRY] sweep failed")
		return report, err
	}

	mailed := 0
	for _, res := range report.Results {
		if res.Outcome != ledger.OutcomeDowngraded || res.Account == nil || res.Account.Email == "" || s.notify == nil {
			continue
		}
		if nerr := s.notify.SendDowngradeNotice(res.Account.Email); nerr != nil {
			log.Warn().Err(nerr).Str("user_id", res.UserID).Msg("[EXPIRY] downgrade notice failed")
			continue
		}
		mailed++
	}
	log.Info().
		Int("total", report.Total).Int("failed", report.Failed).
		Int("downgraded", report.Downgraded).Int("mailed", mailed).
		Dur("took", time.Since(start)).
		Msg("[EXPIRY] sweep done")
	return report, err
}
