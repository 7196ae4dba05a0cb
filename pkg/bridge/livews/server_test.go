package livews

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"verity/pkg/engine"
	"verity/pkg/pmd"
)

func dialTestServer(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration happens after the upgrade response is written, so the
	// dialer can return before the server tracks the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		n := len(srv.clients)
		srv.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func testRecord(stream pmd.MeasurementType) engine.Record {
	return engine.Record{
		Stream: stream,
		Samples: []pmd.Sample{
			{TimestampUS: 600000, Values: []int64{1, 2, 3}},
		},
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBroadcastDeliversSampleMessage(t *testing.T) {
	srv := NewServer("", nil, nil)
	conn := dialTestServer(t, srv, "")

	srv.broadcast(testRecord(pmd.MeasurementACC))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var msg SampleMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Stream != "acc" {
		t.Fatalf("stream: got %q", msg.Stream)
	}
	if len(msg.Samples) != 1 || msg.Samples[0].TimestampUS != 600000 {
		t.Fatalf("samples: %+v", msg.Samples)
	}
	if len(msg.Samples[0].Values) != 3 {
		t.Fatalf("values: %+v", msg.Samples[0].Values)
	}
}

func TestStreamFilterQuery(t *testing.T) {
	srv := NewServer("", nil, nil)
	conn := dialTestServer(t, srv, "?streams=ppg")

	srv.broadcast(testRecord(pmd.MeasurementACC))
	srv.broadcast(testRecord(pmd.MeasurementPPG))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg SampleMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Stream != "ppg" {
		t.Fatalf("filtered client received stream %q", msg.Stream)
	}
}

func TestBroadcastSkipsEmptyRecords(t *testing.T) {
	srv := NewServer("", nil, nil)
	c := &client{send: make(chan []byte, 1)}
	srv.clients[c] = struct{}{}

	srv.broadcast(engine.Record{Stream: pmd.MeasurementPPG})
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected payload: %s", payload)
	default:
	}
}

func TestClientWants(t *testing.T) {
	all := &client{}
	if !all.wants("ppg") || !all.wants("hr") {
		t.Fatalf("client without filter must receive everything")
	}

	filtered := &client{streams: map[string]struct{}{"acc": {}}}
	if !filtered.wants("acc") || filtered.wants("ppg") {
		t.Fatalf("filter not applied")
	}
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	srv := NewServer("", nil, nil)
	c := &client{send: make(chan []byte, 1)}
	srv.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			srv.broadcast(testRecord(pmd.MeasurementACC))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a full client buffer")
	}
}
