package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/audit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/keyexchange"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/ratelimit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPongWait        = 45 * time.Second
	wsPingInterval    = (wsPongWait * 9) / 10
	wsWriteWait       = 10 * time.Second
	wsStoreTimeout    = 5 * time.Second
)

// Client-facing connection errors.
const (
	msgUnauthorized         = "Unauthorized"
	msgRateLimited          = "Rate limit exceeded"
	msgInvalidToken         = "Invalid or expired token"
	msgAlreadyAuthenticated = "Already authenticated"
	msgInvalidFrame         = "Invalid frame"
	msgShuttingDown         = "Server is shutting down"
	msgSessionUnavailable   = "Session store unavailable"
)

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type authenticateParams struct {
	Token                string `json:"token"`
	ClientPublicKey      string `json:"client_public_key"`
	ClientPublicKeyCamel string `json:"clientPublicKey"`
}

func (p authenticateParams) publicKey() string {
	if strings.TrimSpace(p.ClientPublicKey) != "" {
		return p.ClientPublicKey
	}
	return p.ClientPublicKeyCamel
}

type authSuccessData struct {
	Message             string `json:"message"`
	EncryptedSessionKey string `json:"encrypted_session_key,omitempty"`
}

type statusData struct {
	Status string `json:"status"`
}

// wsConnection drives one client through the connection state machine.
// Frames are handled in order on the read goroutine; client_request work is
// handed to the dispatcher and its result comes back through send.
type wsConnection struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	id         string
	remoteAddr string

	// authFailures is only touched by the read goroutine.
	authFailures int
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observability.AddConnectionID(s.baseCtx, id))
	c := &wsConnection{
		server:     s,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		logger:     s.logger.With("connection_id", id),
		id:         id,
		remoteAddr: clientIP(r),
	}
	if !s.track(c) {
		cancel()
		_ = conn.Close()
		return
	}
	c.run()
}

func (c *wsConnection) run() {
	defer c.server.untrack(c)

	if err := c.server.registry.Connect(c.id); err != nil {
		c.logger.Error("register connection", "error", err)
		c.cancel()
		_ = c.conn.Close()
		return
	}
	c.server.metrics.ConnectionOpened()
	c.logger.Info("client connected", "remote_addr", c.remoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop()
	c.cancel()
	<-writerDone
	c.server.disconnect(c, err)
}

// close stops the connection after queued frames are flushed.
func (c *wsConnection) close() {
	c.cancel()
}

func (c *wsConnection) readLoop() error {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		frame, err := decodeFrame(data)
		if err != nil {
			c.logger.Debug("invalid frame", "error", err)
			c.sendEvent(eventError, router.ErrorPayload(msgInvalidFrame))
			continue
		}

		switch frame.Event {
		case eventAuthenticate:
			if closeConn := c.handleAuthenticate(frame.Data); closeConn {
				return nil
			}
		case eventSessionKeyAck:
			c.handleSessionKeyAck()
		case eventClientRequest:
			c.handleClientRequest(frame.Data)
		}
	}
}

// writeLoop owns all writes to the socket. After the connection context
// ends it flushes whatever is already queued, sends a close frame and
// closes the socket, which also unblocks a pending read.
func (c *wsConnection) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *wsConnection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.write(websocket.CloseMessage, closeMsg)
			return
		}
	}
}

func (c *wsConnection) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if err := validateWSFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// sendEvent queues a frame. Frames for a closed connection, or beyond a
// full buffer, are dropped.
func (c *wsConnection) sendEvent(event string, data any) {
	encoded, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		c.logger.Error("encode frame", "event", event, "error", err)
		return
	}
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- encoded:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, dropping frame", "event", event)
	}
}

func (c *wsConnection) sendResultError(msg string) {
	c.sendEvent(eventResult, router.ErrorPayload(msg))
}

func (c *wsConnection) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.server.baseCtx, wsStoreTimeout)
}

// handleAuthenticate verifies the token and, when the client offered a
// usable public key, starts the session key exchange. It reports whether
// the connection should be closed.
func (c *wsConnection) handleAuthenticate(data json.RawMessage) bool {
	s := c.server
	var params authenticateParams
	if len(data) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			c.logger.Debug("decode authenticate", "error", err)
		}
	}

	if s.registry.State(c.id).Authenticated() {
		s.metrics.RecordAuth("rejected")
		s.events.Record(c.ctx, &audit.Event{Type: audit.EventAuthRejected, ConnectionID: c.id})
		c.sendEvent(eventAuthFailed, router.ErrorPayload(msgAlreadyAuthenticated))
		return false
	}

	user, err := s.tokens.Verify(params.Token)
	if err != nil {
		c.authFailures++
		s.metrics.RecordAuth("failed")
		s.events.AuthFailed(c.ctx, c.id, params.Token != "", c.authFailures)
		c.logger.Info("authentication failed", "attempts", c.authFailures, "error", err)
		c.sendEvent(eventAuthFailed, router.ErrorPayload(msgInvalidToken))
		return c.authFailures >= s.cfg.Auth.MaxAuthAttempts
	}
	c.authFailures = 0

	publicKey := params.publicKey()
	if publicKey != "" {
		if err := acceptPublicKey(publicKey); err != nil {
			c.logger.Warn("ignoring malformed client public key", "error", err)
			publicKey = ""
		}
	}

	snap, err := s.registry.Authenticate(c.id, user, publicKey)
	if err != nil {
		s.metrics.RecordAuth("rejected")
		s.events.Record(c.ctx, &audit.Event{
			Type:         audit.EventAuthError,
			ConnectionID: c.id,
			Fields:       map[string]any{"err": err.Error()},
		})
		c.sendEvent(eventAuthFailed, router.ErrorPayload(msgAlreadyAuthenticated))
		return false
	}

	storeCtx, cancel := c.storeContext()
	err = s.store.AddOrReplaceSession(storeCtx, snap.Session())
	cancel()
	if err != nil {
		s.registry.Unauthenticate(c.id)
		s.metrics.RecordAuth("error")
		s.events.Record(c.ctx, &audit.Event{
			Type:         audit.EventAuthError,
			ConnectionID: c.id,
			User:         user,
			Fields:       map[string]any{"err": err.Error()},
		})
		c.logger.Warn("persist session", "user", user, "error", err)
		c.sendEvent(eventAuthFailed, router.ErrorPayload(msgSessionUnavailable))
		return false
	}

	reply := authSuccessData{Message: fmt.Sprintf("Welcome, %s!", user)}
	if publicKey != "" {
		reply.EncryptedSessionKey = c.offerSessionKey(user, publicKey)
	}

	s.metrics.RecordAuth("success")
	s.events.AuthSuccess(c.ctx, c.id, user, publicKey != "", reply.EncryptedSessionKey != "")
	c.logger.Info("client authenticated", "user", user, "session_key_pending", reply.EncryptedSessionKey != "")
	c.sendEvent(eventAuthSuccess, reply)
	return false
}

// acceptPublicKey applies the same rule the session store enforces, then
// checks the key actually decodes to a usable RSA key.
func acceptPublicKey(publicKey string) error {
	if err := sessions.ValidatePublicKeyPEM(publicKey); err != nil {
		return err
	}
	_, err := keyexchange.ParsePublicKeyPEM(publicKey)
	return err
}

// offerSessionKey generates a session key, wraps it for the client and marks
// it pending. A failure leaves the connection in RSA-only mode.
func (c *wsConnection) offerSessionKey(user, publicKey string) string {
	s := c.server
	sessionKey, err := keyexchange.GenerateSessionKey()
	if err == nil {
		var wrapped string
		wrapped, err = keyexchange.WrapKeyForClient(sessionKey, publicKey)
		if err == nil {
			if err = s.registry.SetPending(c.id, sessionKey); err == nil {
				return wrapped
			}
		}
	}
	c.logger.Warn("session key exchange failed, using RSA only", "error", err)
	s.events.Record(c.ctx, &audit.Event{
		Type:         audit.EventKeyWrapFailed,
		ConnectionID: c.id,
		User:         user,
		Fields:       map[string]any{"err": err.Error()},
	})
	return ""
}

func (c *wsConnection) handleSessionKeyAck() {
	s := c.server
	snap, ok := s.registry.ConfirmPending(c.id)
	if !ok {
		c.sendEvent(eventSessionKeyConfirmed, statusData{Status: "no_pending_key"})
		return
	}

	storeCtx, cancel := c.storeContext()
	if err := s.store.AddOrReplaceSession(storeCtx, snap.Session()); err != nil {
		c.logger.Warn("persist confirmed session key", "error", err)
	}
	cancel()

	s.events.KeyConfirmed(c.ctx, c.id, snap.User)
	c.sendEvent(eventSessionKeyConfirmed, statusData{Status: "ok"})
}

func (c *wsConnection) handleClientRequest(data json.RawMessage) {
	s := c.server
	if !s.requestLimiter.Allow(ratelimit.CompositeKey(eventClientRequest, c.id)) {
		s.metrics.RecordRateLimited(eventClientRequest)
		s.events.Record(c.ctx, &audit.Event{
			Type:         audit.EventRateLimited,
			ConnectionID: c.id,
			Fields:       map[string]any{"scope": eventClientRequest},
		})
		c.sendResultError(msgRateLimited)
		return
	}

	snap, ok := s.registry.Snapshot(c.id)
	if !ok || !snap.State.Authenticated() {
		c.sendResultError(msgUnauthorized)
		return
	}

	env, err := parseInbound(data, s.codec.plaintextMode)
	if err != nil {
		s.metrics.RecordDecryptFailure("parse")
		c.sendResultError(clientMessage(err))
		return
	}
	_, span := s.tracer.TraceEnvelope(c.ctx, "inbound", c.id)
	req, mode, err := s.codec.open(env, s.registry.EffectiveKey(c.id))
	s.tracer.SetAttributes(span, "envelope.mode", mode)
	s.tracer.RecordError(span, err)
	span.End()
	if err != nil {
		reason := "crypto"
		if errors.Is(err, errNoEncryptedField) {
			reason = "missing_field"
		}
		s.metrics.RecordDecryptFailure(reason)
		c.logger.Info("client request rejected", "reason", reason, "error", err)
		c.sendResultError(clientMessage(err))
		return
	}
	s.metrics.RecordEnvelope("inbound", mode)

	req.ConnectionID = c.id
	req.User = snap.User
	if err := s.dispatcher.Submit(req, c.deliver); err != nil {
		c.sendResultError(msgShuttingDown)
	}
}

// deliver seals a routed payload with whatever keys the connection holds at
// this moment. Results for connections that have gone away are dropped.
func (c *wsConnection) deliver(payload router.Payload) {
	s := c.server
	snap, ok := s.registry.Snapshot(c.id)
	if !ok {
		c.logger.Debug("dropping result for closed connection")
		return
	}
	_, span := s.tracer.TraceEnvelope(c.ctx, "outbound", c.id)
	env, err := s.codec.seal(payload, recipient{
		SymmetricKey:    snap.SymmetricKey,
		ClientPublicKey: snap.ClientPublicKey,
	})
	s.tracer.SetAttributes(span, "envelope.mode", env.outbound())
	s.tracer.RecordError(span, err)
	span.End()
	if err != nil {
		c.logger.Warn("encrypt result", "mode", env.outbound(), "error", err)
	}
	s.metrics.RecordEnvelope("outbound", env.outbound())
	c.sendEvent(eventResult, env)
}

// disconnect tears down every trace of a connection: live state, pending
// key, durable session row, history and rate limit bucket.
func (s *Server) disconnect(c *wsConnection, readErr error) {
	snap, _ := s.registry.Remove(c.id)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), wsStoreTimeout)
	defer cancel()
	var storeErr error
	if err := s.store.RemoveSession(ctx, c.id); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		storeErr = err
	}
	if err := s.store.ClearHistory(ctx, c.id); err != nil {
		storeErr = errors.Join(storeErr, err)
	}
	s.requestLimiter.Reset(ratelimit.CompositeKey(eventClientRequest, c.id))

	s.metrics.ConnectionClosed()
	s.events.Disconnect(ctx, c.id, storeErr)
	if storeErr != nil {
		c.logger.Warn("cleanup after disconnect", "error", storeErr)
	}
	c.logger.Info("client disconnected", "user", snap.User, "read_error", readErr)
}
