package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// Dialer opens one control-plane link with the given credentials.
//
// Implementations report ErrUnauthorized and ErrProtocolVersion (wrapped)
// for the corresponding handshake rejections, and *TransientConnectError
// when the endpoint does not exist yet or refuses the connection.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (remote.Remote, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, creds Credentials) (remote.Remote, error)

func (f DialerFunc) Dial(ctx context.Context, creds Credentials) (remote.Remote, error) {
	return f(ctx, creds)
}

// WebsocketDialer connects over a unix socket when SocketPath exists and
// over TCP to URL otherwise
type WebsocketDialer struct {
	SocketPath       string
	URL              string
	HandshakeTimeout time.Duration
	Conn             ConnOptions
}

// Endpoint names where the next Dial will go
func (d *WebsocketDialer) Endpoint() string {
	if d.socketAvailable() {
		return "unix://" + d.SocketPath
	}
	return d.URL
}

func (d *WebsocketDialer) socketAvailable() bool {
	if d.SocketPath == "" {
		return false
	}
	info, err := os.Stat(d.SocketPath)
	return err == nil && info.Mode()&fs.ModeSocket != 0
}

// Dial implements Dialer
func (d *WebsocketDialer) Dial(ctx context.Context, creds Credentials) (remote.Remote, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	wsDialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{Subprotocol},
	}

	url, endpoint := d.URL, d.URL
	if d.socketAvailable() {
		path := d.SocketPath
		url, endpoint = "ws://localhost/", "unix://"+path
		wsDialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var nd net.Dialer
			return nd.DialContext(ctx, "unix", path)
		}
	} else if d.URL == "" {
		return nil, &TransientConnectError{Op: "dial", Endpoint: "unix://" + d.SocketPath, Err: fs.ErrNotExist}
	}

	header := http.Header{}
	header.Set("Origin", "ws://localhost/")
	header.Set(HeaderLibraryVersion, LibraryVersion.String())
	if creds.Cookie != "" {
		header.Set(HeaderCookie, creds.Cookie)
	}
	if creds.Key != "" {
		header.Set(HeaderKey, creds.Key)
	}

	ws, resp, err := wsDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDialError(endpoint, resp, err)
	}

	version := ParseVersion(resp.Header.Get(HeaderProtocolVersion))
	return NewConn(ws, version, d.Conn), nil
}

// classifyDialError sorts a failed dial into the supervisor's taxonomy
func classifyDialError(endpoint string, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &HandshakeError{Endpoint: endpoint, Status: resp.StatusCode, Err: ErrUnauthorized}
		case http.StatusNotAcceptable:
			return &HandshakeError{Endpoint: endpoint, Status: resp.StatusCode, Err: ErrProtocolVersion}
		case http.StatusServiceUnavailable:
			return &TransientConnectError{Op: "dial", Endpoint: endpoint, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) || errors.Is(err, fs.ErrNotExist) {
		return &TransientConnectError{Op: "dial", Endpoint: endpoint, Err: err}
	}
	return fmt.Errorf("dial %s: %w", endpoint, err)
}
