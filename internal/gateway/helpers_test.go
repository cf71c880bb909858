package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/config"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/keyexchange"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/lookup"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/providers"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

var (
	keyOnce   sync.Once
	serverKey *keyexchange.ServerKey
	clientKey *keyexchange.ServerKey
	keyErr    error
)

// testKeys returns shared RSA key pairs for the server and a client.
func testKeys(t *testing.T) (server, client *keyexchange.ServerKey) {
	t.Helper()
	keyOnce.Do(func() {
		serverKey, keyErr = keyexchange.GenerateServerKey(2048)
		if keyErr != nil {
			return
		}
		clientKey, keyErr = keyexchange.GenerateServerKey(2048)
	})
	if keyErr != nil {
		t.Fatalf("GenerateServerKey() error = %v", keyErr)
	}
	return serverKey, clientKey
}

type countingProcessor struct {
	calls atomic.Int32

	mu    sync.Mutex
	reply func(req providers.Request) (string, error)
}

func (p *countingProcessor) Name() string { return "stub" }

func (p *countingProcessor) setReply(reply func(req providers.Request) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = reply
}

func (p *countingProcessor) Process(ctx context.Context, req providers.Request) (string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	reply := p.reply
	p.mu.Unlock()
	if reply != nil {
		return reply(req)
	}
	return "reply to " + req.Message, nil
}

type stubDirectory struct {
	rows []models.Record
	err  error
}

func (d stubDirectory) Search(context.Context, string, int) ([]models.Record, error) {
	return d.rows, d.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret-test-secret-test-secret"
	cfg.Events.Enabled = false
	cfg.Maintenance.Schedule = ""
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

type testServer struct {
	*Server
	http      *httptest.Server
	store     *sessions.MemoryStore
	processor *countingProcessor
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *testServer {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	srvKey, _ := testKeys(t)
	store := sessions.NewMemoryStore()
	processor := &countingProcessor{}
	base := []Option{
		WithStore(store),
		WithProcessor(processor),
		WithDirectory(lookup.Unavailable{}),
		WithServerKey(srvKey),
	}
	s, err := NewServer(cfg, discardLogger(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return &testServer{Server: s, http: ts, store: store, processor: processor}
}

func (ts *testServer) issueToken(t *testing.T, user string) string {
	t.Helper()
	token, err := ts.tokens.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(outboundFrame{Event: event, Data: data}); err != nil {
		c.t.Fatalf("WriteJSON() error = %v", err)
	}
}

func (c *wsClient) sendRaw(raw string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		c.t.Fatalf("WriteMessage() error = %v", err)
	}
}

// expect reads the next frame, requires its event name and decodes its data.
func (c *wsClient) expect(event string, into any) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame wsFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		c.t.Fatalf("waiting for %q: %v", event, err)
	}
	if frame.Event != event {
		c.t.Fatalf("event = %q (data %s), want %q", frame.Event, frame.Data, event)
	}
	if into != nil {
		if err := json.Unmarshal(frame.Data, into); err != nil {
			c.t.Fatalf("decode %q data: %v", event, err)
		}
	}
}

// expectClosed requires the server to close the connection.
func (c *wsClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				c.t.Fatal("connection was not closed")
			}
			return
		}
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectionID returns the id of the single live connection.
func (ts *testServer) connectionID(t *testing.T) string {
	t.Helper()
	var id string
	waitFor(t, "one live connection", func() bool {
		ts.connMu.Lock()
		defer ts.connMu.Unlock()
		if len(ts.conns) != 1 {
			return false
		}
		for key := range ts.conns {
			id = key
		}
		return true
	})
	return id
}
