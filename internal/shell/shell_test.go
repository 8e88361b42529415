package shell

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rendezvous/internal/negotiation"
)

func init() {
	pterm.DisableStyling()
}

type fakeEngine struct {
	mu       sync.Mutex
	state    negotiation.State
	connects []string
	sent     []string
	discs    int
}

func (f *fakeEngine) Connect(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(target) == "" {
		return negotiation.ErrMissingTarget
	}
	f.connects = append(f.connects, target)
	return nil
}

func (f *fakeEngine) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discs++
	return nil
}

func (f *fakeEngine) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != negotiation.Open {
		return negotiation.ErrNotOpen
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeEngine) State() negotiation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Peer() string { return "" }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		kind commandKind
		arg  string
	}{
		{"", cmdNone, ""},
		{"   ", cmdNone, ""},
		{"connect bob", cmdConnect, "bob"},
		{"  connect   bob  ", cmdConnect, "bob"},
		{"connect", cmdConnect, ""},
		{"disconnect", cmdDisconnect, ""},
		{"help", cmdHelp, ""},
		{"clear", cmdClear, ""},
		{"quit", cmdQuit, ""},
		{"exit", cmdQuit, ""},
		{"hello there", cmdMessage, "hello there"},
		{"help me please", cmdMessage, "help me please"},
		{"connecting is hard", cmdMessage, "connecting is hard"},
	}

	for _, tt := range tests {
		got := parseCommand(tt.line)
		if got.kind != tt.kind || got.arg != tt.arg {
			t.Errorf("parseCommand(%q) = {%d %q}, want {%d %q}", tt.line, got.kind, got.arg, tt.kind, tt.arg)
		}
	}
}

func TestShortIdentity(t *testing.T) {
	tests := []struct{ in, want string }{
		{"bob", "bob"},
		{"abcdefghijkl", "abcdefghijkl"},
		{"0x1111111111111111111111111111111111112222", "0x1111...2222"},
		{"ÅÄÖåäöÅÄÖåäöX", "ÅÄÖåäö...åäöX"},
	}
	for _, tt := range tests {
		if got := shortIdentity(tt.in); got != tt.want {
			t.Errorf("shortIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func runScript(t *testing.T, eng Engine, script string) string {
	t.Helper()
	var out bytes.Buffer
	s := New("alice", strings.NewReader(script), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx, eng); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestRunCommands(t *testing.T) {
	eng := &fakeEngine{}
	out := runScript(t, eng, "connect 0x1111111111111111111111111111111111112222\nconnect\nhi\ndisconnect\nquit\nconnect carol\n")

	if len(eng.connects) != 1 || eng.connects[0] != "0x1111111111111111111111111111111111112222" {
		t.Fatalf("connects = %v", eng.connects)
	}
	if eng.discs != 1 {
		t.Fatalf("disconnects = %d", eng.discs)
	}

	for _, want := range []string{
		"Connecting to 0x1111...2222...",
		"Please provide an identity",
		"Not connected. Use: connect <identity>",
		"Goodbye!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunSendsWhenOpen(t *testing.T) {
	eng := &fakeEngine{state: negotiation.Open}
	out := runScript(t, eng, "hello bob\nhelp\n")

	if len(eng.sent) != 1 || eng.sent[0] != "hello bob" {
		t.Fatalf("sent = %v", eng.sent)
	}
	if !strings.Contains(out, "You: hello bob") {
		t.Errorf("output missing echo:\n%s", out)
	}
	if !strings.Contains(out, "Connected! Just type your message") {
		t.Errorf("help does not reflect open state:\n%s", out)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var out bytes.Buffer
	s := New("alice", blockingReader{}, &out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &fakeEngine{}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name string
		n    negotiation.Notification
		want string
	}{
		{"registered", negotiation.Notification{Kind: negotiation.NotifyRegistered, Peer: "alice"}, "Registered as alice"},
		{"message", negotiation.Notification{Kind: negotiation.NotifyMessage, From: "0x1111111111111111111111111111111111112222", Text: "hi"}, "0x1111...2222: hi"},
		{"error", negotiation.Notification{Kind: negotiation.NotifyError, Message: "bob not available"}, "Bob not available"},
		{"relay lost", negotiation.Notification{Kind: negotiation.NotifyRelayLost, Message: "EOF"}, "Relay disconnected (EOF)"},
		{"incoming", negotiation.Notification{Kind: negotiation.NotifyState, State: negotiation.Answering, Peer: "bob"}, "Incoming connection from bob"},
		{"open", negotiation.Notification{Kind: negotiation.NotifyState, State: negotiation.Open, Peer: "bob"}, "Connected to bob"},
		{"closed", negotiation.Notification{Kind: negotiation.NotifyState, State: negotiation.Closed, Peer: "bob"}, "Connection to bob closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			New("alice", strings.NewReader(""), &out).Notify(tt.n)
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tt.want)
			}
			if !strings.HasSuffix(out.String(), prompt) {
				t.Errorf("prompt not restored: %q", out.String())
			}
		})
	}
}

func TestNotifyIgnoresQuietStates(t *testing.T) {
	var out bytes.Buffer
	New("alice", strings.NewReader(""), &out).Notify(negotiation.Notification{Kind: negotiation.NotifyState, State: negotiation.Idle})
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCapitalize(t *testing.T) {
	if got := capitalize(errors.New("please provide an identity").Error()); got != "Please provide an identity" {
		t.Fatalf("capitalize = %q", got)
	}
	if got := capitalize(""); got != "" {
		t.Fatalf("capitalize(\"\") = %q", got)
	}
}
