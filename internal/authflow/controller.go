package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kitebot/internal/broker"
	"kitebot/internal/logger"
	"kitebot/internal/notify"
)

// State is the phase of one authentication attempt.
type State string

const (
	StateIdle            State = "IDLE"
	StateURLIssued       State = "URL_ISSUED"
	StateAwaitingCode    State = "AWAITING_CALLBACK"
	StateExchanging      State = "EXCHANGING"
	StateCredentialSaved State = "CREDENTIAL_SAVED"
	StateTimedOut        State = "TIMED_OUT"
	StateExchangeFailed  State = "EXCHANGE_FAILED"
)

// Trigger names what started an authentication attempt.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerExpired   Trigger = "expired"
)

// SessionExchanger is the broker-side half of the login handshake.
type SessionExchanger interface {
	LoginURL(postbackURL string) string
	ExchangeCode(ctx context.Context, requestToken string) (*broker.Session, error)
	Profile(ctx context.Context) (*broker.Profile, error)
}

// Controller drives one interactive authentication attempt end to end:
// issue the login URL, wait for the redirect to land on the receiver,
// exchange the captured code and persist the resulting credential.
type Controller struct {
	exchanger   SessionExchanger
	receiver    *ReceiverClient
	store       *CredentialStore
	notifier    notify.Notifier
	postbackURL   string
	timeout       time.Duration
	pollEvery     time.Duration
	progressEvery time.Duration

	state     State
	attemptID string
}

func NewController(exchanger SessionExchanger, receiver *ReceiverClient, store *CredentialStore, notifier notify.Notifier, postbackURL string, timeout, pollEvery time.Duration) *Controller {
	return &Controller{
		exchanger:     exchanger,
		receiver:      receiver,
		store:         store,
		notifier:      notifier,
		postbackURL:   postbackURL,
		timeout:       timeout,
		pollEvery:     pollEvery,
		progressEvery: 30 * time.Second,
		state:         StateIdle,
	}
}

// SetProgressInterval adjusts how often the waiting loop logs progress.
func (c *Controller) SetProgressInterval(d time.Duration) {
	if d > 0 {
		c.progressEvery = d
	}
}

// State returns the phase of the current or last attempt.
func (c *Controller) State() State {
	return c.state
}

// IssueLoginURL clears any stale code on the receiver and returns the
// login URL for the user to visit.
func (c *Controller) IssueLoginURL(ctx context.Context) (string, error) {
	if err := c.receiver.ClearCode(ctx); err != nil {
		logger.Warnf("clear stale exchange code failed: %v", err)
	}
	url := c.exchanger.LoginURL(c.postbackURL)
	c.state = StateURLIssued
	return url, nil
}

// AwaitExchangeCode polls the receiver until a code arrives, the code is
// reported expired, or the attempt times out. Transient receiver failures
// are tolerated and retried.
func (c *Controller) AwaitExchangeCode(ctx context.Context) (string, error) {
	c.state = StateAwaitingCode
	deadline := time.Now().Add(c.timeout)
	started := time.Now()
	lastProgress := started

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		code, err := c.receiver.FetchCode(ctx)
		switch {
		case err == nil:
			return code, nil
		case errors.Is(err, ErrCodeExpired):
			c.state = StateTimedOut
			return "", ErrCodeExpired
		case errors.Is(err, ErrNoCode):
			// expected while the user has not logged in yet
		default:
			logger.Warnf("receiver poll failed, retrying: %v", err)
		}

		if time.Since(lastProgress) >= c.progressEvery {
			remaining := time.Until(deadline).Round(time.Second)
			logger.Infof("still waiting for login, %s remaining", remaining)
			lastProgress = time.Now()
		}
		if time.Now().After(deadline) {
			c.state = StateTimedOut
			return "", fmt.Errorf("login not completed within %s", c.timeout)
		}

		select {
		case <-ctx.Done():
			c.state = StateTimedOut
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exchange trades the captured code for a session and persists it. The
// exchange call is made once; a one-time code cannot be retried.
func (c *Controller) Exchange(ctx context.Context, code string) (*Record, error) {
	c.state = StateExchanging
	sess, err := c.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		c.state = StateExchangeFailed
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rec := &Record{
		AccessToken: sess.AccessToken,
		CreatedAt:   time.Now(),
		IsValid:     true,
		UserID:      sess.UserID,
		UserName:    sess.UserName,
	}
	if err := c.store.Save(rec); err != nil {
		c.state = StateExchangeFailed
		return nil, fmt.Errorf("persist credential: %w", err)
	}
	if err := c.receiver.ClearCode(ctx); err != nil {
		logger.Warnf("clear consumed exchange code failed: %v", err)
	}
	c.state = StateCredentialSaved
	return rec, nil
}

// Run executes a full attempt for the given trigger and notifies the
// outcome. It returns the saved record on success.
func (c *Controller) Run(ctx context.Context, trigger Trigger) (*Record, error) {
	c.attemptID = uuid.NewString()[:8]
	logger.Infof("authentication attempt %s started (trigger=%s)", c.attemptID, trigger)

	url, err := c.IssueLoginURL(ctx)
	if err != nil {
		return nil, err
	}
	c.notifyStart(trigger, url)

	code, err := c.AwaitExchangeCode(ctx)
	if err != nil {
		c.notifyOutcome(trigger, err)
		return nil, err
	}
	logger.Infof("attempt %s: exchange code received after login", c.attemptID)

	rec, err := c.Exchange(ctx, code)
	if err != nil {
		c.notifyOutcome(trigger, err)
		return nil, err
	}

	logger.Infof("attempt %s: credential saved for user %s", c.attemptID, rec.UserID)
	c.notifyOutcome(trigger, nil)
	return rec, nil
}

// Validate checks the stored credential against the broker profile
// endpoint and updates its validation bookkeeping.
func (c *Controller) Validate(ctx context.Context, rec *Record) error {
	profile, err := c.exchanger.Profile(ctx)
	if err != nil {
		if serr := c.store.MarkInvalid(rec, err); serr != nil {
			logger.Warnf("record invalid credential state failed: %v", serr)
		}
		return err
	}
	if rec.UserID == "" {
		rec.UserID = profile.UserID
		rec.UserName = profile.UserName
	}
	return c.store.MarkValidated(rec)
}

func (c *Controller) notifyStart(trigger Trigger, url string) {
	titles := map[Trigger]string{
		TriggerManual:    "Login Required",
		TriggerScheduled: "Daily Login Required",
		TriggerExpired:   "Session Expired, Login Required",
	}
	msg := notify.StructuredMessage{
		Icon:  "🔐",
		Title: titles[trigger],
		Sections: []notify.MessageSection{
			{Title: "Action", Lines: []string{"Open the link below and complete the broker login."}},
			{Title: "Login URL", Lines: []string{url}},
			{Title: "Window", Lines: []string{fmt.Sprintf("Expires in %s", c.timeout)}},
		},
		Timestamp: time.Now(),
	}
	if err := c.notifier.Send(msg.RenderHTML(), trigger == TriggerScheduled); err != nil {
		logger.Warnf("send login notification failed: %v", err)
	}
}

func (c *Controller) notifyOutcome(trigger Trigger, cause error) {
	var msg notify.StructuredMessage
	if cause == nil {
		msg = notify.StructuredMessage{
			Icon:      "✅",
			Title:     "Authentication Successful",
			Sections:  []notify.MessageSection{{Title: "Attempt", Lines: []string{c.attemptID, "trigger: " + string(trigger)}}},
			Timestamp: time.Now(),
		}
	} else {
		sections := []notify.MessageSection{
			{Title: "Attempt", Lines: []string{c.attemptID, "trigger: " + string(trigger)}},
			{Title: "Cause", Lines: []string{cause.Error()}},
		}
		if trigger == TriggerScheduled {
			sections = append(sections, notify.MessageSection{
				Title: "Recovery",
				Lines: []string{"The previous credential is untouched. Run: kitebot -mode refresh"},
			})
		}
		msg = notify.StructuredMessage{
			Icon:      "❌",
			Title:     "Authentication Failed",
			Sections:  sections,
			Timestamp: time.Now(),
		}
	}
	if err := c.notifier.Send(msg.RenderHTML(), false); err != nil {
		logger.Warnf("send outcome notification failed: %v", err)
	}
}
