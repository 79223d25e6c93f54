package authflow

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefresher(t *testing.T, fr *fakeReceiver, fe *fakeExchanger, timeout time.Duration) *Refresher {
	t.Helper()
	c := newTestController(t, fr, fe, timeout)
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return NewRefresher(c, c.store, loc, "09:00")
}

func TestTriggerRejectsOverlappingAttempts(t *testing.T) {
	fr := &fakeReceiver{} // always 404 so the first attempt keeps polling
	fe := &fakeExchanger{}
	r := newTestRefresher(t, fr, fe, 400*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Trigger(context.Background(), TriggerScheduled)
	}()

	// Let the scheduled attempt take the lock first.
	time.Sleep(50 * time.Millisecond)
	_, err := r.Trigger(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	wg.Wait()
}

func TestTriggerInvokesCredentialHook(t *testing.T) {
	fr := &fakeReceiver{responses: []func(http.ResponseWriter){
		respond(http.StatusOK, `{"request_token":"req-7"}`),
	}}
	fe := &fakeExchanger{}
	r := newTestRefresher(t, fr, fe, 5*time.Second)

	var got string
	r.OnCredential(func(rec *Record) { got = rec.AccessToken })

	rec, err := r.Trigger(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, got)
}

func TestEnsureFreshUsesValidStoredCredential(t *testing.T) {
	fr := &fakeReceiver{}
	fe := &fakeExchanger{}
	r := newTestRefresher(t, fr, fe, 5*time.Second)

	require.NoError(t, r.store.Save(&Record{AccessToken: "stored", CreatedAt: time.Now()}))

	rec, err := r.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", rec.AccessToken)
	assert.Empty(t, fe.exchanged, "no re-auth when the credential validates")
}

func TestEnsureFreshReauthenticatesStaleCredential(t *testing.T) {
	fr := &fakeReceiver{responses: []func(http.ResponseWriter){
		respond(http.StatusOK, `{"request_token":"req-stale"}`),
	}}
	fe := &fakeExchanger{}
	r := newTestRefresher(t, fr, fe, 5*time.Second)

	require.NoError(t, r.store.Save(&Record{AccessToken: "old", CreatedAt: time.Now().Add(-25 * time.Hour)}))

	rec, err := r.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-req-stale", rec.AccessToken)
}

func TestNextRun(t *testing.T) {
	fr := &fakeReceiver{}
	fe := &fakeExchanger{}
	r := newTestRefresher(t, fr, fe, time.Second)
	loc := r.loc

	before := time.Date(2025, 9, 1, 8, 0, 0, 0, loc)
	next, err := r.nextRun(before)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 1, 9, 0, 0, 0, loc), next)

	after := time.Date(2025, 9, 1, 10, 0, 0, 0, loc)
	next, err = r.nextRun(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 2, 9, 0, 0, 0, loc), next)
}
