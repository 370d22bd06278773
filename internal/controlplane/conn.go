package controlplane

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/shared/id"
)

const (
	writeTimeout    = 10 * time.Second
	eventBufferSize = 64
)

// ConnOptions configures a Conn
type ConnOptions struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	// Limiter throttles outbound requests; nil means unlimited
	Limiter *rate.Limiter
}

// Conn is a live control-plane link. A single dispatcher goroutine owns the
// read side and routes each inbound frame to the pending request or event
// subscriber it belongs to.
type Conn struct {
	ws      *websocket.Conn
	version remote.Version
	log     *zap.Logger
	metrics *monitoring.Metrics
	limiter *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Frame
	subs    map[string]*subscription

	live      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ remote.Remote = (*Conn)(nil)

// NewConn wraps an established websocket and starts its dispatcher
func NewConn(ws *websocket.Conn, version remote.Version, opts ConnOptions) *Conn {
	c := &Conn{
		ws:      ws,
		version: version,
		log:     logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		limiter: opts.Limiter,
		pending: make(map[string]chan *Frame),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	c.live.Store(true)
	c.metrics.ConnectionOpened()
	go c.dispatch()
	return c
}

// Live reports whether the dispatcher is still running
func (c *Conn) Live() bool { return c.live.Load() }

// ProtocolVersion returns the version negotiated at handshake
func (c *Conn) ProtocolVersion() remote.Version { return c.version }

// Done is closed when the connection dies
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection died, or nil while it is live
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Close shuts the link down. Pending calls fail with ErrConnectionClosed.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrConnectionClosed)
	return nil
}

func (c *Conn) dispatch() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("control plane closed the connection")
			} else if c.Live() {
				c.log.Warn("control-plane read failed", zap.Error(err))
			}
			c.shutdown(errors.Join(ErrConnectionClosed, err))
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.log.Debug("dropping undecodable frame", zap.Error(err))
			c.metrics.IncDroppedFrames()
			continue
		}
		c.route(f)
	}
}

func (c *Conn) route(f *Frame) {
	switch {
	case f.IsResponse():
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
			return
		}
	case f.IsNotification():
		c.mu.Lock()
		sub, ok := c.subs[f.Subscription]
		c.mu.Unlock()
		if ok {
			var ev remote.PromptEvent
			if err := unmarshalRaw(f.Event, &ev); err != nil {
				c.log.Debug("dropping malformed event", zap.String("subscription", f.Subscription), zap.Error(err))
				c.metrics.IncDroppedFrames()
				return
			}
			sub.deliver(ev, c.log)
			return
		}
	}

	c.log.Debug("dropping unsolicited frame",
		zap.String("id", f.ID),
		zap.String("method", f.Method),
		zap.String("subscription", f.Subscription))
	c.metrics.IncDroppedFrames()
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.live.Store(false)
		c.closeErr = err
		close(c.done)
		_ = c.ws.Close()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]*subscription)
		c.pending = make(map[string]chan *Frame)
		c.mu.Unlock()

		for _, s := range subs {
			s.end()
		}
		c.metrics.ConnectionClosed()
	})
}

// call performs one request/response round trip
func (c *Conn) call(ctx context.Context, method string, params, out any) (err error) {
	if !c.Live() {
		return ErrConnectionClosed
	}
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPC(method, status, time.Since(start))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	raw, err := marshalRaw(params)
	if err != nil {
		return err
	}
	rid := id.NewRequestID().String()
	data, err := encodeFrame(&Frame{ID: rid, Method: method, Params: raw})
	if err != nil {
		return err
	}

	ch := make(chan *Frame, 1)
	c.mu.Lock()
	c.pending[rid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, rid)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, data); err != nil {
		return err
	}

	var resp *Frame
	select {
	case resp = <-ch:
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if resp.Error != nil {
		return &RemoteError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return unmarshalRaw(resp.Result, out)
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shutdown(errors.Join(ErrConnectionClosed, err))
		return ErrConnectionClosed
	}
	return nil
}

// ============================================================================
// remote.Remote
// ============================================================================

func (c *Conn) Layout(ctx context.Context) (*remote.Layout, error) {
	var out remote.Layout
	if err := c.call(ctx, MethodLayout, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Conn) DefaultProfile(ctx context.Context) (remote.Profile, error) {
	var out remote.Profile
	err := c.call(ctx, MethodDefaultProfile, nil, &out)
	return out, err
}

func (c *Conn) Profile(ctx context.Context, name string) (remote.Profile, error) {
	var out remote.Profile
	err := c.call(ctx, MethodProfile, profileParams{Name: name}, &out)
	return out, err
}

func (c *Conn) CreateWindow(ctx context.Context, profile string) (remote.Created, error) {
	var out remote.Created
	err := c.call(ctx, MethodCreateWindow, createWindowParams{Profile: profile}, &out)
	return out, err
}

func (c *Conn) CreateTab(ctx context.Context, windowID, profile string) (remote.Created, error) {
	var out remote.Created
	err := c.call(ctx, MethodCreateTab, createTabParams{WindowID: windowID, Profile: profile}, &out)
	return out, err
}

func (c *Conn) Activate(ctx context.Context, sessionID string, selectTab, orderWindowFront bool) error {
	return c.call(ctx, MethodActivate, activateParams{
		SessionID:        sessionID,
		SelectTab:        selectTab,
		OrderWindowFront: orderWindowFront,
	}, nil)
}

func (c *Conn) Variable(ctx context.Context, scope remote.Scope, objectID, name string) (string, error) {
	var out variableResult
	err := c.call(ctx, MethodGetVariable, variableParams{Scope: scope, ID: objectID, Name: name}, &out)
	return out.Value, err
}

func (c *Conn) SetVariable(ctx context.Context, scope remote.Scope, objectID, name, value string) error {
	return c.call(ctx, MethodSetVariable, variableParams{Scope: scope, ID: objectID, Name: name, Value: value}, nil)
}

func (c *Conn) SetTabTitle(ctx context.Context, tabID, title string) error {
	return c.call(ctx, MethodSetTabTitle, titleParams{ID: tabID, Title: title}, nil)
}

func (c *Conn) SetSessionName(ctx context.Context, sessionID, name string) error {
	return c.call(ctx, MethodSetSessionName, titleParams{ID: sessionID, Title: name}, nil)
}

func (c *Conn) BufferInfo(ctx context.Context, sessionID string) (remote.BufferInfo, error) {
	var out remote.BufferInfo
	err := c.call(ctx, MethodBufferInfo, sessionParams{SessionID: sessionID}, &out)
	return out, err
}

func (c *Conn) ReadLines(ctx context.Context, sessionID string, firstLine int64, count int) ([]remote.Line, error) {
	var out readLinesResult
	err := c.call(ctx, MethodReadLines, readLinesParams{SessionID: sessionID, FirstLine: firstLine, Count: count}, &out)
	return out.Lines, err
}

func (c *Conn) SendText(ctx context.Context, sessionID, text string, suppressBroadcast bool) error {
	return c.call(ctx, MethodSendText, sendTextParams{
		SessionID:         sessionID,
		Text:              text,
		SuppressBroadcast: suppressBroadcast,
	}, nil)
}

func (c *Conn) LastPrompt(ctx context.Context, sessionID string) (*remote.Prompt, error) {
	var out promptResult
	err := c.call(ctx, MethodLastPrompt, promptParams{SessionID: sessionID}, &out)
	return out.Prompt, err
}

func (c *Conn) Prompt(ctx context.Context, sessionID, promptID string) (*remote.Prompt, error) {
	var out promptResult
	if err := c.call(ctx, MethodPrompt, promptParams{SessionID: sessionID, PromptID: promptID}, &out); err != nil {
		return nil, err
	}
	if out.Prompt == nil {
		return nil, remote.ErrNotFound
	}
	return out.Prompt, nil
}

// SubscribePrompts registers the subscription locally before asking the
// control plane for it, so no event can arrive ahead of its subscriber
func (c *Conn) SubscribePrompts(ctx context.Context, sessionID string) (remote.Subscription, error) {
	sub := &subscription{
		id:     id.NewSubscriptionID().String(),
		conn:   c,
		events: make(chan remote.PromptEvent, eventBufferSize),
	}
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if err := c.call(ctx, MethodSubscribePrompts, subscribeParams{SessionID: sessionID, Subscription: sub.id}, nil); err != nil {
		c.forget(sub.id)
		sub.end()
		return nil, err
	}
	return sub, nil
}

func (c *Conn) forget(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
}

// subscription fans prompt events for one session into a buffered channel
type subscription struct {
	id     string
	conn   *Conn
	events chan remote.PromptEvent

	mu     sync.Mutex
	closed bool
}

func (s *subscription) Events() <-chan remote.PromptEvent { return s.events }

func (s *subscription) deliver(ev remote.PromptEvent, log *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Warn("event subscriber is not keeping up, dropping event",
			zap.String("subscription", s.id), zap.String("kind", string(ev.Kind)))
	}
}

func (s *subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *subscription) Close() error {
	s.mu.Lock()
	already := s.closed
	s.mu.Unlock()
	if already {
		return nil
	}

	s.conn.forget(s.id)
	s.end()
	if !s.conn.Live() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.conn.call(ctx, MethodUnsubscribe, unsubscribeParams{Subscription: s.id}, nil)
}
