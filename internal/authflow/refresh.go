package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kitebot/internal/logger"
)

// ErrRefreshInProgress means an attempt is already running and a new
// trigger was rejected rather than queued.
var ErrRefreshInProgress = errors.New("authentication already in progress")

// Refresher runs the daily credential refresh at a fixed wall-clock time
// in the exchange timezone and exposes a manual trigger. Only one attempt
// runs at a time; overlapping triggers are rejected.
type Refresher struct {
	controller *Controller
	store      *CredentialStore
	loc        *time.Location
	at         string // HH:MM wall clock

	mu           sync.Mutex
	onCredential func(*Record)
}

func NewRefresher(controller *Controller, store *CredentialStore, loc *time.Location, at string) *Refresher {
	return &Refresher{
		controller: controller,
		store:      store,
		loc:        loc,
		at:         at,
	}
}

// OnCredential registers a hook invoked with every freshly saved record,
// so live sessions can rebind without restarting.
func (r *Refresher) OnCredential(fn func(*Record)) {
	r.onCredential = fn
}

// Trigger runs one attempt now. It fails fast with ErrRefreshInProgress
// when a scheduled or earlier manual attempt is still running.
func (r *Refresher) Trigger(ctx context.Context, trigger Trigger) (*Record, error) {
	if !r.mu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer r.mu.Unlock()

	rec, err := r.controller.Run(ctx, trigger)
	if err != nil {
		return nil, err
	}
	if r.onCredential != nil {
		r.onCredential(rec)
	}
	return rec, nil
}

// EnsureFresh validates the stored credential and runs a full attempt
// when it is missing, stale or rejected by the broker.
func (r *Refresher) EnsureFresh(ctx context.Context) (*Record, error) {
	rec, err := r.store.Load()
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			return nil, err
		}
		logger.Infof("no stored credential, starting authentication")
		return r.Trigger(ctx, TriggerManual)
	}

	if r.store.IsStale(rec) {
		logger.Infof("stored credential is stale (age %s), re-authenticating", rec.Age(time.Now()).Round(time.Minute))
		return r.Trigger(ctx, TriggerExpired)
	}

	if err := r.controller.Validate(ctx, rec); err != nil {
		logger.Warnf("stored credential rejected by broker: %v", err)
		return r.Trigger(ctx, TriggerExpired)
	}
	logger.Infof("stored credential valid for user %s (age %s)", rec.UserID, rec.Age(time.Now()).Round(time.Minute))
	return rec, nil
}

// Run blocks and fires a scheduled attempt at the configured wall-clock
// time every day until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		next, err := r.nextRun(time.Now().In(r.loc))
		if err != nil {
			return err
		}
		logger.Infof("next scheduled credential refresh at %s", next.Format("2006-01-02 15:04 MST"))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := r.Trigger(ctx, TriggerScheduled); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Errorf("scheduled credential refresh failed: %v", err)
		}
	}
}

func (r *Refresher) nextRun(now time.Time) (time.Time, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(r.at, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("parse refresh time %q: %w", r.at, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, r.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
