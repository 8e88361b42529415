package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rendezvous/internal/config"
	"github.com/1ureka/rendezvous/internal/signaling"
)

func startServer(t *testing.T) (*Relay, *Server, *httptest.Server, context.Context) {
	t.Helper()
	r, ctx := startRelay(t)

	cfg := config.DefaultRelay()
	cfg.MaxMessageBytes = 4096
	srv := NewServer(r, cfg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return r, srv, ts, ctx
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ([]byte, signaling.Envelope) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := signaling.Decode(raw)
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return raw, env
}

func send(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func registerWS(t *testing.T, conn *websocket.Conn, identity string) {
	t.Helper()
	send(t, conn, []byte(`{"type":"register","identity":"`+identity+`"}`))
	if _, env := readEnvelope(t, conn); env.Type != signaling.TypeRegistered || env.Identity != identity {
		t.Fatalf("register %q: got %+v", identity, env)
	}
}

func TestServerHealthz(t *testing.T) {
	_, _, ts, _ := startServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestServerForwards(t *testing.T) {
	_, _, ts, _ := startServer(t)
	alice, bob := dial(t, ts), dial(t, ts)
	registerWS(t, alice, "alice")
	registerWS(t, bob, "bob")

	frame := []byte(`{"type":"answer","from":"alice","to":"bob","sdp":{"type":"answer","sdp":"v=0"}}`)
	send(t, alice, frame)

	raw, env := readEnvelope(t, bob)
	if !bytes.Equal(raw, frame) {
		t.Fatalf("bob received %q, want %q", raw, frame)
	}
	if env.From != "alice" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	send(t, alice, []byte(`{"type":"offer","from":"alice","to":"nobody"}`))
	if _, env := readEnvelope(t, alice); env.Type != signaling.TypeError || env.Message != "nobody not available" {
		t.Fatalf("alice got %+v", env)
	}
}

func TestServerSurvivesMalformedFrames(t *testing.T) {
	_, _, ts, _ := startServer(t)
	conn := dial(t, ts)

	send(t, conn, []byte("garbage"))
	send(t, conn, []byte(`{"type":"what"}`))
	registerWS(t, conn, "alice")
}

func TestServerReadLimitClosesConnection(t *testing.T) {
	_, _, ts, _ := startServer(t)
	conn := dial(t, ts)

	big := bytes.Repeat([]byte("x"), 8192)
	send(t, conn, []byte(`{"type":"register","identity":"`+string(big)+`"}`))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the oversized frame to close the connection")
	}
}

func TestServerCloseUnregisters(t *testing.T) {
	r, _, ts, ctx := startServer(t)
	alice := dial(t, ts)
	registerWS(t, alice, "alice")

	alice.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := lookup(t, ctx, r, "alice"); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("alice still registered after its transport closed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServerShutdownClosesClients(t *testing.T) {
	_, srv, ts, _ := startServer(t)
	conn := dial(t, ts)
	registerWS(t, conn, "alice")

	srv.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read err = %v, want normal close", err)
	}
}
