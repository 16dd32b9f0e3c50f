package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/job"
	"github.com/thereceipt/posbridge/internal/protocol"
	"github.com/thereceipt/posbridge/internal/registry"
	"github.com/thereceipt/posbridge/internal/render"
)

var kitchen = device.LogicalDevice{
	ID:          device.NetworkID("192.168.1.40", 9100),
	Kind:        device.KindPrinter,
	Transport:   device.TransportNetwork,
	DisplayName: "Kitchen",
	Host:        "192.168.1.40",
	Port:        9100,
}

type recordingSender struct {
	// hold, when set, blocks writes until it is closed.
	hold     chan struct{}
	inFlight atomic.Int32

	mu   sync.Mutex
	sent map[string][]byte
}

func (r *recordingSender) Send(ctx context.Context, dev device.LogicalDevice, data []byte) error {
	if r.hold != nil {
		r.inFlight.Add(1)
		<-r.hold
		r.inFlight.Add(-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[dev.ID] = append(r.sent[dev.ID], data...)
	return nil
}

func (r *recordingSender) Discard(string) {}
func (r *recordingSender) CloseAll()      {}

func (r *recordingSender) bytes(id string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[id]
}

type staticDiscovery struct {
	reg  *registry.Registry
	devs []device.LogicalDevice
}

func (d staticDiscovery) RunOnce(ctx context.Context) ([]device.LogicalDevice, error) {
	d.reg.Merge(d.devs)
	return d.reg.Printers(), nil
}

type fakeNotifier struct{ err error }

func (f fakeNotifier) Notify(ctx context.Context, title, body string) error { return f.err }

type fakeKeyboard struct{ err error }

func (f fakeKeyboard) SetVisible(ctx context.Context, visible bool) error { return f.err }

type testBridge struct {
	srv    *Server
	http   *httptest.Server
	reg    *registry.Registry
	sender *recordingSender
}

func newTestBridge(t *testing.T, discovered ...device.LogicalDevice) *testBridge {
	t.Helper()

	reg, err := registry.New(nil)
	require.NoError(t, err)

	bus := events.NewBus()
	sender := &recordingSender{sent: make(map[string][]byte)}
	engine := job.NewEngine(reg, render.New(), sender, bus, nil, job.Options{QueueDepth: 8})

	srv := NewServer(Deps{
		Version:   "1.2.3",
		Registry:  reg,
		Jobs:      engine,
		Discovery: staticDiscovery{reg: reg, devs: discovered},
		Notifier:  fakeNotifier{err: errors.New("notify-send: exit status 1")},
		Keyboard:  fakeKeyboard{},
		Bus:       bus,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		engine.Stop(ctx)
	})
	return &testBridge{srv: srv, http: hs, reg: reg, sender: sender}
}

func (b *testBridge) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

// next reads events until one named name arrives.
func next(t *testing.T, conn *websocket.Conn, name string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev["event"] == name {
			return ev
		}
	}
}

func TestStatusWithNoDevices(t *testing.T) {
	b := newTestBridge(t)

	resp, err := http.Get(b.http.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `"status"`, string(raw["event"]))
	assert.JSONEq(t, `"1.2.3"`, string(raw["version"]))
	assert.JSONEq(t, `[]`, string(raw["printers"]))
	assert.JSONEq(t, `false`, string(raw["scanner"]))
}

func TestStatusSentOnConnect(t *testing.T) {
	b := newTestBridge(t)
	b.reg.Merge([]device.LogicalDevice{kitchen})
	conn := b.dial(t)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, protocol.EventStatus, ev["event"])
	assert.Equal(t, "1.2.3", ev["version"])
	assert.Len(t, ev["printers"], 1)
}

func TestDuplicateJobIDIsProtocolError(t *testing.T) {
	b := newTestBridge(t)
	b.sender.hold = make(chan struct{})
	b.reg.Merge([]device.LogicalDevice{kitchen})
	conn := b.dial(t)
	next(t, conn, protocol.EventStatus)

	msg := `{"action":"print","printer_id":"` + kitchen.ID + `","job_id":"j1","data":{"lines":["Hello"]}}`
	send(t, conn, msg)
	require.Eventually(t, func() bool { return b.sender.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	send(t, conn, msg)

	ev := next(t, conn, protocol.EventError)
	assert.Equal(t, protocol.CodeDuplicateJob, ev["code"])
	assert.NotContains(t, ev, "job_id")

	close(b.sender.hold)
	ev = next(t, conn, protocol.EventPrintComplete)
	assert.Equal(t, "j1", ev["job_id"])
}

func TestGetStatusOverWebSocket(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"get_status"}`)
	ev := next(t, conn, protocol.EventStatus)
	assert.Equal(t, "1.2.3", ev["version"])
	assert.Equal(t, []any{}, ev["printers"])
}

func TestDiscoverPrintersEmpty(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"discover_printers"}`)
	ev := next(t, conn, protocol.EventPrinters)
	assert.Equal(t, []any{}, ev["printers"])
}

func TestDiscoverPrintersFindsKitchen(t *testing.T) {
	b := newTestBridge(t, kitchen)
	conn := b.dial(t)

	send(t, conn, `{"action":"discover_printers"}`)
	ev := next(t, conn, protocol.EventPrinters)
	printers := ev["printers"].([]any)
	require.Len(t, printers, 1)
	p := printers[0].(map[string]any)
	assert.Equal(t, kitchen.ID, p["id"])
	assert.Equal(t, true, p["reachable"])
}

func TestPrintComplete(t *testing.T) {
	b := newTestBridge(t)
	b.reg.Merge([]device.LogicalDevice{kitchen})
	conn := b.dial(t)

	send(t, conn, `{"action":"print","printer_id":"`+kitchen.ID+`","job_id":"j1","data":{"lines":["Hello"]}}`)
	ev := next(t, conn, protocol.EventPrintComplete)
	assert.Equal(t, "j1", ev["job_id"])
	assert.Contains(t, string(b.sender.bytes(kitchen.ID)), "Hello")

	resp, err := http.Get(b.http.URL + "/jobs/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var j job.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	assert.Equal(t, job.StateCompleted, j.State)
}

func TestPrintUnknownPrinter(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"print","printer_id":"usb:0xdead:0xbeef","job_id":"j2","data":{"lines":["x"]}}`)
	ev := next(t, conn, protocol.EventPrintError)
	assert.Equal(t, "j2", ev["job_id"])
	assert.Contains(t, ev["error"], "not found")
	assert.Empty(t, b.sender.bytes("usb:0xdead:0xbeef"))
}

func TestPrintWithoutPrinterGetsJobID(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"test_print"}`)
	ev := next(t, conn, protocol.EventPrintError)
	assert.NotEmpty(t, ev["job_id"])
	assert.Equal(t, "printer_id is required", ev["error"])
}

func TestMalformedJSONKeepsConnection(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":`)
	ev := next(t, conn, protocol.EventError)
	assert.Equal(t, protocol.CodeParseError, ev["code"])
	assert.NotContains(t, ev, "job_id")

	send(t, conn, `{"action":"get_status"}`)
	next(t, conn, protocol.EventStatus)
}

func TestUnknownAndMissingAction(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"self_destruct"}`)
	ev := next(t, conn, protocol.EventError)
	assert.Equal(t, protocol.CodeUnknownAction, ev["code"])

	send(t, conn, `{}`)
	ev = next(t, conn, protocol.EventError)
	assert.Equal(t, protocol.CodeMissingParam, ev["code"])
}

func TestNotificationAndKeyboard(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t)

	send(t, conn, `{"action":"send_notification","body":"Order ready"}`)
	ev := next(t, conn, protocol.EventError)
	assert.Equal(t, protocol.CodeNotificationError, ev["code"])

	send(t, conn, `{"action":"toggle_keyboard"}`)
	ev = next(t, conn, protocol.EventKeyboardToggled)
	assert.Equal(t, true, ev["visible"])

	send(t, conn, `{"action":"toggle_keyboard","visible":false}`)
	ev = next(t, conn, protocol.EventKeyboardToggled)
	assert.Equal(t, false, ev["visible"])
}

func TestRegistryEditsBroadcast(t *testing.T) {
	b := newTestBridge(t)
	b.reg.Merge([]device.LogicalDevice{kitchen})
	first := b.dial(t)
	second := b.dial(t)
	require.Eventually(t, func() bool { return b.srv.Clients() == 2 }, time.Second, 5*time.Millisecond)

	send(t, first, `{"action":"rename_printer","printer_id":"`+kitchen.ID+`","name":"Bar"}`)
	for _, conn := range []*websocket.Conn{first, second} {
		ev := next(t, conn, protocol.EventPrinters)
		p := ev["printers"].([]any)[0].(map[string]any)
		assert.Equal(t, "Bar", p["displayName"])
	}

	send(t, first, `{"action":"forget_printer","printer_id":"usb:0x0000:0x0001"}`)
	ev := next(t, first, protocol.EventError)
	assert.Equal(t, protocol.CodeNotFound, ev["code"])

	send(t, first, `{"action":"add_printer"}`)
	ev = next(t, first, protocol.EventError)
	assert.Equal(t, protocol.CodeMissingParam, ev["code"])
}

func TestGetPrinters(t *testing.T) {
	b := newTestBridge(t)
	b.reg.Merge([]device.LogicalDevice{kitchen})

	resp, err := http.Get(b.http.URL + "/printers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body protocol.Printers
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Printers, 1)
	assert.Equal(t, kitchen.ID, body.Printers[0].ID)
}
