package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/protocol"
)

// envelope is the union of every event the bridge sends.
type envelope struct {
	Event    string                 `json:"event"`
	Version  string                 `json:"version,omitempty"`
	Printers []device.LogicalDevice `json:"printers,omitempty"`
	Scanner  bool                   `json:"scanner,omitempty"`
	JobID    string                 `json:"job_id,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Code     string                 `json:"code,omitempty"`
	Value    string                 `json:"value,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Visible  bool                   `json:"visible,omitempty"`
}

// errQuiet is returned by await when the deadline passes with no match.
var errQuiet = errors.New("no reply from bridge")

// bridgeError is a protocol error event.
type bridgeError struct {
	Code    string
	Message string
}

func (e *bridgeError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

type client struct {
	conn *websocket.Conn
}

func dial(ctx context.Context, url string) (*client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", url, err)
	}
	return &client{conn: conn}, nil
}

func (c *client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *client) send(cmd protocol.Command) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Action, err)
	}
	return nil
}

// next reads one event, honoring the deadline of ctx.
func (c *client) next(ctx context.Context) (envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	var ev envelope
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to parse event: %w", err)
	}
	return ev, nil
}

// await reads events until match accepts one. An error event fails the wait;
// a read timeout returns errQuiet.
func (c *client) await(ctx context.Context, match func(envelope) bool) (envelope, error) {
	for {
		ev, err := c.next(ctx)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ev, errQuiet
			}
			return ev, err
		}
		if ev.Event == protocol.EventError {
			return ev, &bridgeError{Code: ev.Code, Message: ev.Message}
		}
		if match(ev) {
			return ev, nil
		}
	}
}

func isEvent(name string) func(envelope) bool {
	return func(ev envelope) bool { return ev.Event == name }
}

// jobOutcome matches the terminal event of jobID.
func jobOutcome(jobID string) func(envelope) bool {
	return func(ev envelope) bool {
		return ev.JobID == jobID &&
			(ev.Event == protocol.EventPrintComplete || ev.Event == protocol.EventPrintError)
	}
}
