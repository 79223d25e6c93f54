package postback

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func doReq(t *testing.T, s *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestCaptureAndCollect(t *testing.T) {
	s := NewServer(0)

	w := doReq(t, s, http.MethodGet, "/redirect?request_token=req-1&status=success", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doReq(t, s, http.MethodGet, "/get_token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "req-1", body.Get("request_token").String())
	assert.True(t, body.Get("age_seconds").Exists())
}

func TestCodeIsSingleUse(t *testing.T) {
	s := NewServer(0)
	doReq(t, s, http.MethodGet, "/redirect?request_token=req-1", nil)

	first := doReq(t, s, http.MethodGet, "/get_token", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doReq(t, s, http.MethodGet, "/get_token", nil)
	assert.Equal(t, http.StatusGone, second.Code)
}

func TestGetTokenBeforeCapture(t *testing.T) {
	s := NewServer(0)
	w := doReq(t, s, http.MethodGet, "/get_token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCodeExpiresAfterTTL(t *testing.T) {
	s := NewServer(time.Minute)
	doReq(t, s, http.MethodGet, "/redirect?request_token=req-1", nil)

	s.nowFn = func() time.Time { return time.Now().Add(2 * time.Minute) }
	w := doReq(t, s, http.MethodGet, "/get_token", nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestPostbackAcceptsForm(t *testing.T) {
	s := NewServer(0)
	w := doReq(t, s, http.MethodPost, "/postback", url.Values{"request_token": {"req-form"}})
	require.Equal(t, http.StatusOK, w.Code)

	got := doReq(t, s, http.MethodGet, "/get_token", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "req-form", gjson.Get(got.Body.String(), "request_token").String())
}

func TestCaptureWithoutTokenIsBadRequest(t *testing.T) {
	s := NewServer(0)
	w := doReq(t, s, http.MethodGet, "/redirect", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewCaptureReplacesOldCode(t *testing.T) {
	s := NewServer(0)
	doReq(t, s, http.MethodGet, "/redirect?request_token=old", nil)
	doReq(t, s, http.MethodGet, "/redirect?request_token=new", nil)

	w := doReq(t, s, http.MethodGet, "/get_token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new", gjson.Get(w.Body.String(), "request_token").String())
}

func TestClearToken(t *testing.T) {
	s := NewServer(0)
	doReq(t, s, http.MethodGet, "/redirect?request_token=req-1", nil)

	w := doReq(t, s, http.MethodGet, "/clear_token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := doReq(t, s, http.MethodGet, "/get_token", nil)
	assert.Equal(t, http.StatusNotFound, got.Code)
}

func TestHealthAndStatus(t *testing.T) {
	s := NewServer(0)
	assert.Equal(t, http.StatusOK, doReq(t, s, http.MethodGet, "/health", nil).Code)

	w := doReq(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "has_token").Bool())

	doReq(t, s, http.MethodGet, "/redirect?request_token=req-1", nil)
	w = doReq(t, s, http.MethodGet, "/status", nil)
	assert.True(t, gjson.Get(w.Body.String(), "has_token").Bool())
}
