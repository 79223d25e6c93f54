package broker

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"kitebot/internal/market"
)

const apiVersion = "3"

// APIError carries the broker's HTTP status and error payload.
type APIError struct {
	Status    int
	ErrorType string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error %d (%s): %s", e.Status, e.ErrorType, e.Message)
}

// IsTokenError reports whether the error means the access token is dead
// and a fresh authentication flow is required.
func IsTokenError(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return apiErr.Status == http.StatusForbidden || apiErr.ErrorType == "TokenException"
}

// Client is a rate-limited Kite Connect REST client. The access token is
// rebindable so a daily refresh can swap it without rebuilding the client.
type Client struct {
	baseURL   string
	loginURL  string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *rate.Limiter

	mu          sync.RWMutex
	accessToken string
}

func NewClient(baseURL, loginURL, apiKey, apiSecret string, timeout time.Duration, ratePerSec float64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ratePerSec <= 0 {
		// Kite allows 3 req/s per app.
		ratePerSec = 3
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		loginURL:  loginURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
	}
}

// SetAccessToken rebinds the session token used on authenticated calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) authHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return "token " + c.apiKey + ":" + c.accessToken
}

// LoginURL builds the hosted login page URL the user must visit to start
// an authentication attempt. The redirect lands on the postback receiver.
func (c *Client) LoginURL(postbackURL string) string {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("v", apiVersion)
	if postbackURL != "" {
		q.Set("redirect_url", postbackURL)
	}
	return c.loginURL + "?" + q.Encode()
}

// ExchangeCode trades a one-time request token for a session. The checksum
// is sha256(api_key + request_token + api_secret) per the Kite handshake.
func (c *Client) ExchangeCode(ctx context.Context, requestToken string) (*Session, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + c.apiSecret))
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", hex.EncodeToString(sum[:]))

	body, err := c.do(ctx, http.MethodPost, "/session/token", form, false)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	token := data.Get("access_token").String()
	if token == "" {
		return nil, fmt.Errorf("session response missing access_token")
	}
	return &Session{
		AccessToken: token,
		UserID:      data.Get("user_id").String(),
		UserName:    data.Get("user_name").String(),
		LoginTime:   time.Now(),
	}, nil
}

// Profile fetches the account profile. Used to validate a stored token.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/profile", nil, true)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	return &Profile{
		UserID:   data.Get("user_id").String(),
		UserName: data.Get("user_name").String(),
		Email:    data.Get("email").String(),
	}, nil
}

// Quote returns the last traded price for one exchange:symbol instrument.
func (c *Client) Quote(ctx context.Context, instrument string) (*Quote, error) {
	path := "/quote/ltp?i=" + url.QueryEscape(instrument)
	body, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	ltp := gjson.GetBytes(body, "data."+escapeGJSONKey(instrument)+".last_price")
	if !ltp.Exists() {
		return nil, fmt.Errorf("quote response missing %s", instrument)
	}
	return &Quote{Symbol: instrument, LastPrice: ltp.Float()}, nil
}

// HistoricalCandles fetches interval bars for an instrument token between
// from and to, both inclusive, in exchange time.
func (c *Client) HistoricalCandles(ctx context.Context, instrumentToken, interval string, from, to time.Time) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("from", from.Format("2006-01-02 15:04:05"))
	q.Set("to", to.Format("2006-01-02 15:04:05"))
	path := fmt.Sprintf("/instruments/historical/%s/%s?%s", url.PathEscape(instrumentToken), url.PathEscape(interval), q.Encode())

	body, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(body, "data.candles")
	out := make([]market.Candle, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		cols := row.Array()
		if len(cols) < 6 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, cols[0].String())
		if err != nil {
			continue
		}
		out = append(out, market.Candle{
			Timestamp: ts,
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Int(),
		})
	}
	return out, nil
}

// PlaceOrder submits a regular-variety order and returns the order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	form := url.Values{}
	form.Set("exchange", p.Exchange)
	form.Set("tradingsymbol", p.TradingSymbol)
	form.Set("transaction_type", p.TransactionType)
	form.Set("quantity", strconv.Itoa(p.Quantity))
	form.Set("product", p.Product)
	form.Set("order_type", p.OrderType)
	if p.OrderType == "LIMIT" {
		form.Set("price", strconv.FormatFloat(p.Price, 'f', 2, 64))
	}

	body, err := c.do(ctx, http.MethodPost, "/orders/regular", form, true)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "data.order_id").String()
	if id == "" {
		return "", fmt.Errorf("order response missing order_id")
	}
	return id, nil
}

// Positions returns the day's net positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	body, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, true)
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, row := range gjson.GetBytes(body, "data.net").Array() {
		out = append(out, Position{
			TradingSymbol: row.Get("tradingsymbol").String(),
			Quantity:      int(row.Get("quantity").Int()),
			AveragePrice:  row.Get("average_price").Float(),
			PnL:           row.Get("pnl").Float(),
		})
	}
	return out, nil
}

// Margins returns the available equity-segment cash balance.
func (c *Client) Margins(ctx context.Context) (*Margins, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/margins/equity", nil, true)
	if err != nil {
		return nil, err
	}
	return &Margins{Available: gjson.GetBytes(body, "data.available.live_balance").Float()}, nil
}

// Instruments downloads the contract master for one exchange. The endpoint
// serves CSV, not JSON.
func (c *Client) Instruments(ctx context.Context, exchange string) ([]Instrument, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instruments/"+url.PathEscape(exchange), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newAPIError(resp.StatusCode, body)
	}

	r := csv.NewReader(resp.Body)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read instrument header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var out []Instrument
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read instrument row: %w", err)
		}
		strike, _ := strconv.ParseFloat(field(row, "strike"), 64)
		lot, _ := strconv.Atoi(field(row, "lot_size"))
		out = append(out, Instrument{
			Token:          field(row, "instrument_token"),
			TradingSymbol:  field(row, "tradingsymbol"),
			Name:           field(row, "name"),
			Expiry:         field(row, "expiry"),
			Strike:         strike,
			InstrumentType: field(row, "instrument_type"),
			Exchange:       field(row, "exchange"),
			LotSize:        lot,
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, authed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authed {
		req.Header.Set("Authorization", c.authHeader())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, body)
	}
	if status := gjson.GetBytes(body, "status").String(); status == "error" {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		Status:    status,
		ErrorType: gjson.GetBytes(body, "error_type").String(),
		Message:   gjson.GetBytes(body, "message").String(),
	}
}

// gjson treats dots as path separators; escape them in instrument keys.
func escapeGJSONKey(key string) string {
	return strings.ReplaceAll(key, ".", "\\.")
}
