package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "https://login.test/connect/login", "key123", "secret456", 0, 0)
	c.SetAccessToken("tok789")
	return c
}

func TestLoginURL(t *testing.T) {
	c := NewClient("https://api.test", "https://login.test/connect/login", "key123", "secret456", 0, 0)
	url := c.LoginURL("https://cb.test/redirect")
	assert.Contains(t, url, "https://login.test/connect/login?")
	assert.Contains(t, url, "api_key=key123")
	assert.Contains(t, url, "v=3")
	assert.Contains(t, url, "redirect_url=https%3A%2F%2Fcb.test%2Fredirect")
}

func TestExchangeCodeSendsChecksum(t *testing.T) {
	var gotChecksum, gotToken string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotChecksum = r.PostForm.Get("checksum")
		gotToken = r.PostForm.Get("request_token")
		w.Write([]byte(`{"status":"success","data":{"access_token":"acc-1","user_id":"AB1234","user_name":"Trader"}}`))
	}))

	sess, err := c.ExchangeCode(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", sess.AccessToken)
	assert.Equal(t, "AB1234", sess.UserID)
	assert.Equal(t, "req-1", gotToken)

	sum := sha256.Sum256([]byte("key123" + "req-1" + "secret456"))
	assert.Equal(t, hex.EncodeToString(sum[:]), gotChecksum)
}

func TestExchangeCodeMissingToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"success","data":{}}`))
	}))
	_, err := c.ExchangeCode(context.Background(), "req-1")
	assert.Error(t, err)
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth, gotVersion string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Kite-Version")
		w.Write([]byte(`{"status":"success","data":{"user_id":"AB1234"}}`))
	}))

	_, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token key123:tok789", gotAuth)
	assert.Equal(t, "3", gotVersion)
}

func TestQuote(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BSE:SENSEX", r.URL.Query().Get("i"))
		w.Write([]byte(`{"status":"success","data":{"BSE:SENSEX":{"last_price":81450.35}}}`))
	}))

	q, err := c.Quote(context.Background(), "BSE:SENSEX")
	require.NoError(t, err)
	assert.Equal(t, 81450.35, q.LastPrice)
}

func TestHistoricalCandles(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/instruments/historical/12345/3minute")
		w.Write([]byte(`{"status":"success","data":{"candles":[
			["2025-09-01T09:15:00+05:30",100.5,102.0,99.5,101.0,1200],
			["2025-09-01T09:18:00+05:30",101.0,103.0,100.0,102.5,900],
			["bad-row"]
		]}}`))
	}))

	from := time.Date(2025, 9, 1, 9, 15, 0, 0, time.UTC)
	cs, err := c.HistoricalCandles(context.Background(), "12345", "3minute", from, from.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, cs, 2, "short rows are skipped")
	assert.Equal(t, 101.0, cs[0].Close)
	assert.Equal(t, int64(900), cs[1].Volume)
}

func TestPlaceOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/regular", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "BFO", r.PostForm.Get("exchange"))
		assert.Equal(t, "BUY", r.PostForm.Get("transaction_type"))
		assert.Equal(t, "10", r.PostForm.Get("quantity"))
		assert.Equal(t, "MIS", r.PostForm.Get("product"))
		assert.Equal(t, "MARKET", r.PostForm.Get("order_type"))
		w.Write([]byte(`{"status":"success","data":{"order_id":"ord-42"}}`))
	}))

	id, err := c.PlaceOrder(context.Background(), OrderParams{
		Exchange: "BFO", TradingSymbol: "SENSEX2590981500CE",
		TransactionType: "BUY", Quantity: 10, Product: "MIS", OrderType: "MARKET",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-42", id)
}

func TestAPIErrorMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"Invalid session"}`))
	}))

	_, err := c.Profile(context.Background())
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "TokenException", apiErr.ErrorType)
	assert.True(t, IsTokenError(err))
}

func TestErrorStatusInBodyWith200(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"error","error_type":"InputException","message":"bad input"}`))
	}))
	_, err := c.Profile(context.Background())
	require.Error(t, err)
	assert.False(t, IsTokenError(err))
}

func TestInstrumentsParsesCSV(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instruments/BFO", r.URL.Path)
		w.Write([]byte("instrument_token,tradingsymbol,name,expiry,strike,instrument_type,exchange,lot_size\n" +
			"111,SENSEX2590981500CE,SENSEX,2025-09-09,81500,CE,BFO,10\n" +
			"112,SENSEX2590981500PE,SENSEX,2025-09-09,81500,PE,BFO,10\n"))
	}))

	out, err := c.Instruments(context.Background(), "BFO")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "SENSEX2590981500CE", out[0].TradingSymbol)
	assert.Equal(t, 81500.0, out[0].Strike)
	assert.Equal(t, 10, out[1].LotSize)
	assert.Equal(t, "PE", out[1].InstrumentType)
}

func TestSetAccessTokenRebinds(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"success","data":{}}`))
	}))

	c.SetAccessToken("rotated")
	_, _ = c.Profile(context.Background())
	assert.Equal(t, "token key123:rotated", gotAuth)
}
