package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"margin_monitor/internal/core"
	"margin_monitor/internal/loan"
	"margin_monitor/internal/store"
	"margin_monitor/internal/watcher"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(msg string, f ...interface{})               {}
func (testLogger) Info(msg string, f ...interface{})                {}
func (testLogger) Warn(msg string, f ...interface{})                {}
func (testLogger) Error(msg string, f ...interface{})               {}
func (testLogger) Fatal(msg string, f ...interface{})               {}
func (testLogger) WithField(k string, v interface{}) core.ILogger   { return testLogger{} }
func (testLogger) WithFields(f map[string]interface{}) core.ILogger { return testLogger{} }

func referenceBook() *core.Book {
	return &core.Book{
		Positions: []core.Position{
			{ID: "usdjpy-1", Side: core.SideLong, Lots: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(150)},
		},
		Account: core.Account{
			Balance:  decimal.NewFromInt(1_000_000),
			Leverage: decimal.NewFromInt(25),
		},
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *watcher.Watcher, *httptest.Server) {
	t.Helper()

	w := watcher.NewWatcher(store.NewMemoryStore(), nil, nil, testLogger{}, watcher.Config{Interval: time.Hour})
	t.Cleanup(w.Stop)
	require.NoError(t, w.SetBook(context.Background(), "default", referenceBook()))

	hub := NewHub(testLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	s := NewServer(hub, w, testLogger{}, opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, w, ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_MarginWithExplicitRate(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	var snap core.MarginSnapshot
	resp := getJSON(t, ts.URL+"/api/margin?rate=150", &snap)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "600000", snap.RequiredMargin.String())
	assert.Equal(t, "1000000", snap.Equity.String())
	assert.Equal(t, core.RiskCaution, snap.Risk)
	assert.InDelta(t, 166.6667, snap.MarginLevel.InexactFloat64(), 0.001)
}

func TestServer_MarginWithoutRateFails(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	var body map[string]string
	resp := getJSON(t, ts.URL+"/api/margin", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "rate")
}

func TestServer_MarginUsesWatcherRate(t *testing.T) {
	_, w, ts := newTestServer(t, Options{})
	require.NoError(t, w.SetRate(decimal.NewFromInt(150)))

	var snap core.MarginSnapshot
	resp := getJSON(t, ts.URL+"/api/margin", &snap)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "150", snap.Rate.String())
}

func TestServer_UnknownBook(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp := getJSON(t, ts.URL+"/api/margin?rate=150&book=nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ScanDefaultGrid(t *testing.T) {
	_, _, ts := newTestServer(t, Options{
		ScanMin:  decimal.NewFromInt(145),
		ScanMax:  decimal.NewFromInt(155),
		ScanStep: decimal.NewFromFloat(0.5),
	})

	var body struct {
		Points []core.MarginSnapshot `json:"points"`
		Count  int                   `json:"count"`
	}
	resp := getJSON(t, ts.URL+"/api/scan", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 21, body.Count)
	require.Len(t, body.Points, 21)
	assert.Equal(t, "145", body.Points[0].Rate.String())
	assert.Equal(t, "155", body.Points[20].Rate.String())
}

func TestServer_ScanQueryOverridesAndInvalidStep(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	var body struct {
		Count int `json:"count"`
	}
	resp := getJSON(t, ts.URL+"/api/scan?min=150&max=151&step=1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body.Count)

	resp = getJSON(t, ts.URL+"/api/scan?min=150&max=151&step=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CriticalRate(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	var body struct {
		Status string          `json:"status"`
		Rate   decimal.Decimal `json:"rate"`
	}
	resp := getJSON(t, ts.URL+"/api/critical-rate?target=100", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "solved", body.Status)
	assert.InDelta(t, 145.8333, body.Rate.InexactFloat64(), 0.0001)
}

func TestServer_CriticalRateMixedBook(t *testing.T) {
	_, w, ts := newTestServer(t, Options{})

	mixed := referenceBook()
	mixed.Positions = append(mixed.Positions, core.Position{
		ID: "usdjpy-2", Side: core.SideShort, Lots: decimal.NewFromInt(5), EntryPrice: decimal.NewFromInt(151),
	})
	require.NoError(t, w.SetBook(context.Background(), "mixed", mixed))

	var body struct {
		Status string `json:"status"`
	}
	resp := getJSON(t, ts.URL+"/api/critical-rate?book=mixed", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mixed_book", body.Status)
}

func TestServer_BookEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	var book core.Book
	resp := getJSON(t, ts.URL+"/api/book", &book)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, book.Positions, 1)
	assert.Equal(t, "usdjpy-1", book.Positions[0].ID)
}

func TestServer_PostRate(t *testing.T) {
	_, w, ts := newTestServer(t, Options{})

	resp, err := http.Post(ts.URL+"/api/rate", "application/json", bytes.NewBufferString(`{"rate": "149.5"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rate, ok := w.CurrentRate()
	require.True(t, ok)
	assert.Equal(t, "149.5", rate.String())

	// Non-positive rate is rejected.
	resp, err = http.Post(ts.URL+"/api/rate", "application/json", bytes.NewBufferString(`{"rate": 0}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_LoanSchedule(t *testing.T) {
	_, _, ts := newTestServer(t, Options{
		LoanTerms: loan.Loan{
			Principal:         decimal.NewFromInt(30_000_000),
			AnnualRatePercent: decimal.NewFromInt(1),
			Years:             35,
			Method:            loan.MethodFixedPayment,
		},
		DeductionPlan: &loan.DeductionPlan{
			CreditRatePercent: decimal.NewFromInt(1),
			Years:             10,
			AnnualCap:         decimal.NewFromInt(400_000),
		},
	})

	var body struct {
		Installments []loan.Installment   `json:"installments"`
		Deduction    []loan.DeductionYear `json:"deduction"`
	}
	resp := getJSON(t, ts.URL+"/api/loan/schedule", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Installments, 420)
	assert.Len(t, body.Deduction, 10)
}

func TestServer_LoanScheduleNotConfigured(t *testing.T) {
	_, _, ts := newTestServer(t, Options{})

	resp := getJSON(t, ts.URL+"/api/loan/schedule", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	_, w, ts := newTestServer(t, Options{})
	require.NoError(t, w.SetRate(decimal.NewFromInt(150)))

	var body map[string]interface{}
	resp := getJSON(t, ts.URL+"/health", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["rate_set"])
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func TestServer_WebSocketBroadcast(t *testing.T) {
	s, _, ts := newTestServer(t, Options{AllowedOrigins: []string{"http://example.com"}})

	header := http.Header{"Origin": []string{"http://example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, s.ClientCount())

	snap := &core.MarginSnapshot{
		Rate:        decimal.NewFromInt(150),
		MarginLevel: decimal.NewFromFloat(166.67),
		Risk:        core.RiskCaution,
	}
	s.BroadcastMessage(TypeSnapshot, snap)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeSnapshot, msg.Type)
}

func TestServer_WebSocketRejectsMissingOrigin(t *testing.T) {
	_, _, ts := newTestServer(t, Options{AllowedOrigins: []string{"http://example.com"}})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}
}

func TestServer_WebSocketRejectsUnknownOrigin(t *testing.T) {
	_, _, ts := newTestServer(t, Options{AllowedOrigins: []string{"http://example.com"}})

	header := http.Header{"Origin": []string{"http://evil.example.org"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}
}

func TestServer_WebSocketConnectionLimit(t *testing.T) {
	_, _, ts := newTestServer(t, Options{
		AllowedOrigins: []string{"http://example.com"},
		MaxConnections: 1,
		RateLimit:      100,
		RateBurst:      100,
	})

	header := http.Header{"Origin": []string{"http://example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_WebSocketRateLimit(t *testing.T) {
	_, _, ts := newTestServer(t, Options{
		AllowedOrigins: []string{"http://example.com"},
		RateLimit:      0.001,
		RateBurst:      1,
	})

	header := http.Header{"Origin": []string{"http://example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
