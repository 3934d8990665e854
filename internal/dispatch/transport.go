package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/qserv-go/internal/wire"
)

// ProvisionNackError means a resource is transiently unavailable; the
// dispatcher retries with bounded backoff.
type ProvisionNackError struct{ Resource string }

func (e ProvisionNackError) Error() string {
	return fmt.Sprintf("dispatch: resource %q transiently unavailable", e.Resource)
}

// RetryableCodes lists websocket close codes that denote a transient
// transport failure. Executive.Run does not consult it: a failed Send
// ends the job in REQUEST_ERROR whatever its code, and only dial
// failures (ProvisionNackError) are retried.
var RetryableCodes = map[int]bool{
	websocket.CloseAbnormalClosure:  true,
	websocket.CloseTryAgainLater:    true,
	websocket.CloseServiceRestart:   true,
	websocket.CloseGoingAway:        true,
}

// Conn is a provisioned, session-oriented connection to one worker
// resource: a request is submitted once, then a stream of framed
// response buffers is read until the stream ends.
type Conn interface {
	Send(payload []byte) error
	Recv() (wire.ProtoHeader, []byte, error)
	Close() error
}

// Transport obtains a Conn for a named resource (e.g. "/chk/LSST/1234").
type Transport interface {
	Dial(ctx context.Context, resource string) (Conn, error)
}

// WSTransport is a Transport backed by a websocket connection per
// resource, giving each dispatched job its own streaming,
// session-oriented connection.
type WSTransport struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

// NewWSTransport returns a WSTransport pointed at baseURL (e.g.
// "ws://worker1:9000").
func NewWSTransport(baseURL string) *WSTransport {
	return &WSTransport{BaseURL: baseURL, Dialer: websocket.DefaultDialer}
}

// Dial opens a websocket connection to baseURL+resource. Every dial
// error, whatever its cause, is reported as ProvisionNackError so the
// caller's retry policy re-provisions rather than failing the job
// outright. A malformed BaseURL is returned as a plain error.
func (t *WSTransport) Dial(ctx context.Context, resource string) (Conn, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = resource

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, ProvisionNackError{Resource: resource}
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(payload []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConn) Recv() (wire.ProtoHeader, []byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wire.ProtoHeader{}, nil, err
	}
	return wire.ReadFrame(bytes.NewReader(data))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// SetDeadline, if non-zero, bounds how long a single Recv may block;
// callers typically wrap Dial/Recv in their own context timeout instead,
// but the websocket library also exposes a raw deadline knob.
func (c *wsConn) SetDeadline(d time.Duration) error {
	return c.conn.SetReadDeadline(time.Now().Add(d))
}
