package controlplane

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termlink/internal/remote"
	"github.com/GriffinCanCode/termlink/internal/shared/id"
)

// ServerOptions configures a Handler
type ServerOptions struct {
	// Cookie and Key, when set, must match the handshake headers
	Cookie string
	Key    string
	// Version is advertised in the protocol-version response header
	Version remote.Version
	// MinLibraryVersion rejects older clients with 406
	MinLibraryVersion remote.Version
	// CallTimeout bounds each backend call
	CallTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Handler serves any remote.Remote over the termlink websocket protocol.
// The mock-server command uses it to expose an in-memory control plane.
type Handler struct {
	backend  remote.Remote
	opts     ServerOptions
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new control-plane handler
func NewHandler(backend remote.Remote, opts ServerOptions) *Handler {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Handler{
		backend: backend,
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("server"),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "ws://localhost/"
			},
		},
	}
}

// ServeHTTP authenticates, negotiates the version and upgrades
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.log.Warn("rejected handshake: bad credentials", zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	client := ParseVersion(r.Header.Get(HeaderLibraryVersion))
	if !client.AtLeast(h.opts.MinLibraryVersion.Major, h.opts.MinLibraryVersion.Minor) {
		h.log.Warn("rejected handshake: client too old", zap.Stringer("client", client))
		http.Error(w, "library version too old", http.StatusNotAcceptable)
		return
	}

	header := http.Header{}
	header.Set(HeaderProtocolVersion, h.opts.Version.String())
	ws, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.opts.Metrics.IncWSConnections()
	defer h.opts.Metrics.DecWSConnections()

	sc := &serverConn{h: h, ws: ws, subs: make(map[string]remote.Subscription)}
	sc.serve(r.Context())
}

func (h *Handler) authorized(r *http.Request) bool {
	return matches(h.opts.Cookie, r.Header.Get(HeaderCookie)) &&
		matches(h.opts.Key, r.Header.Get(HeaderKey))
}

func matches(want, got string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// serverConn is one accepted client
type serverConn struct {
	h  *Handler
	ws *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]remote.Subscription
	wg   sync.WaitGroup
}

func (sc *serverConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		sc.closeSubscriptions()
		sc.wg.Wait()
		_ = sc.ws.Close()
	}()

	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.h.log.Debug("client read failed", zap.Error(err))
			}
			return
		}
		sc.h.opts.Metrics.RecordWSMessage("in", "request")

		req, err := decodeFrame(data)
		if err != nil || req.ID == "" || req.Method == "" {
			sc.h.log.Debug("ignoring malformed request", zap.Error(err))
			continue
		}

		result, err := sc.handle(ctx, req)
		resp := &Frame{ID: req.ID}
		if err != nil {
			resp.Error = toWireError(err)
		} else if resp.Result, err = marshalRaw(result); err != nil {
			resp.Result, resp.Error = nil, &WireError{Code: CodeInternal, Message: err.Error()}
		}
		if err := sc.send(resp, "response"); err != nil {
			return
		}
	}
}

func (sc *serverConn) handle(ctx context.Context, req *Frame) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.h.opts.CallTimeout)
	defer cancel()
	b := sc.h.backend

	switch req.Method {
	case MethodLayout:
		return b.Layout(ctx)
	case MethodDefaultProfile:
		return b.DefaultProfile(ctx)
	case MethodProfile:
		var p profileParams
		return decodeThen(req.Params, &p, func() (any, error) { return b.Profile(ctx, p.Name) })
	case MethodCreateWindow:
		var p createWindowParams
		return decodeThen(req.Params, &p, func() (any, error) { return b.CreateWindow(ctx, p.Profile) })
	case MethodCreateTab:
		var p createTabParams
		return decodeThen(req.Params, &p, func() (any, error) { return b.CreateTab(ctx, p.WindowID, p.Profile) })
	case MethodActivate:
		var p activateParams
		return decodeThen(req.Params, &p, func() (any, error) {
			return nil, b.Activate(ctx, p.SessionID, p.SelectTab, p.OrderWindowFront)
		})
	case MethodGetVariable:
		var p variableParams
		return decodeThen(req.Params, &p, func() (any, error) {
			v, err := b.Variable(ctx, p.Scope, p.ID, p.Name)
			return variableResult{Value: v}, err
		})
	case MethodSetVariable:
		var p variableParams
		return decodeThen(req.Params, &p, func() (any, error) {
			return nil, b.SetVariable(ctx, p.Scope, p.ID, p.Name, p.Value)
		})
	case MethodSetTabTitle:
		var p titleParams
		return decodeThen(req.Params, &p, func() (any, error) { return nil, b.SetTabTitle(ctx, p.ID, p.Title) })
	case MethodSetSessionName:
		var p titleParams
		return decodeThen(req.Params, &p, func() (any, error) { return nil, b.SetSessionName(ctx, p.ID, p.Title) })
	case MethodBufferInfo:
		var p sessionParams
		return decodeThen(req.Params, &p, func() (any, error) { return b.BufferInfo(ctx, p.SessionID) })
	case MethodReadLines:
		var p readLinesParams
		return decodeThen(req.Params, &p, func() (any, error) {
			lines, err := b.ReadLines(ctx, p.SessionID, p.FirstLine, p.Count)
			return readLinesResult{Lines: lines}, err
		})
	case MethodSendText:
		var p sendTextParams
		return decodeThen(req.Params, &p, func() (any, error) {
			return nil, b.SendText(ctx, p.SessionID, p.Text, p.SuppressBroadcast)
		})
	case MethodLastPrompt:
		var p promptParams
		return decodeThen(req.Params, &p, func() (any, error) {
			prompt, err := b.LastPrompt(ctx, p.SessionID)
			return promptResult{Prompt: prompt}, err
		})
	case MethodPrompt:
		var p promptParams
		return decodeThen(req.Params, &p, func() (any, error) {
			prompt, err := b.Prompt(ctx, p.SessionID, p.PromptID)
			return promptResult{Prompt: prompt}, err
		})
	case MethodSubscribePrompts:
		var p subscribeParams
		return decodeThen(req.Params, &p, func() (any, error) { return nil, sc.subscribe(p) })
	case MethodUnsubscribe:
		var p unsubscribeParams
		return decodeThen(req.Params, &p, func() (any, error) { return nil, sc.unsubscribe(p.Subscription) })
	default:
		return nil, &RemoteError{Method: req.Method, Code: CodeUnknownMethod, Message: "unknown method"}
	}
}

// subscribe forwards backend events to the client until either side closes.
// Subscriptions outlive the request context, so they use the background one.
func (sc *serverConn) subscribe(p subscribeParams) error {
	if !id.HasPrefix(p.Subscription, id.SubscriptionPrefix) {
		return &RemoteError{Method: MethodSubscribePrompts, Code: CodeInvalidParams, Message: "malformed subscription id"}
	}
	sub, err := sc.h.backend.SubscribePrompts(context.Background(), p.SessionID)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	sc.subs[p.Subscription] = sub
	sc.mu.Unlock()

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		for ev := range sub.Events() {
			raw, err := marshalRaw(ev)
			if err != nil {
				continue
			}
			if err := sc.send(&Frame{Subscription: p.Subscription, Event: raw}, "event"); err != nil {
				return
			}
		}
	}()
	return nil
}

func (sc *serverConn) unsubscribe(subID string) error {
	sc.mu.Lock()
	sub, ok := sc.subs[subID]
	delete(sc.subs, subID)
	sc.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Close()
}

func (sc *serverConn) closeSubscriptions() {
	sc.mu.Lock()
	subs := sc.subs
	sc.subs = make(map[string]remote.Subscription)
	sc.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
}

func (sc *serverConn) send(f *Frame, kind string) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	sc.h.opts.Metrics.RecordWSMessage("out", kind)
	return nil
}

func decodeThen(raw json.RawMessage, params any, fn func() (any, error)) (any, error) {
	if err := unmarshalRaw(raw, params); err != nil {
		return nil, &RemoteError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return fn()
}

func toWireError(err error) *WireError {
	var re *RemoteError
	switch {
	case errors.As(err, &re):
		return &WireError{Code: re.Code, Message: re.Message}
	case errors.Is(err, remote.ErrNotFound):
		return &WireError{Code: CodeNotFound, Message: err.Error()}
	default:
		return &WireError{Code: CodeInternal, Message: err.Error()}
	}
}
