// Package shell is the interactive terminal front end of a peer. It turns
// input lines into engine commands and renders engine notifications.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/1ureka/rendezvous/internal/negotiation"
)

const prompt = "> "

// Engine is the part of negotiation.Engine the shell drives.
type Engine interface {
	Connect(target string) error
	Disconnect() error
	Send(text string) error
	State() negotiation.State
	Peer() string
}

// Shell reads commands from in and writes everything the user sees to out.
// It is safe to call Notify from any goroutine.
type Shell struct {
	identity string
	in       io.Reader
	out      io.Writer
	tty      bool

	mu sync.Mutex
}

// New creates a shell for the local identity.
func New(identity string, in io.Reader, out io.Writer) *Shell {
	return &Shell{identity: identity, in: in, out: out, tty: isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

type commandKind int

const (
	cmdNone commandKind = iota
	cmdConnect
	cmdDisconnect
	cmdHelp
	cmdClear
	cmdQuit
	cmdMessage
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand classifies one input line. Lines that are not a command are
// messages.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch word {
	case "connect":
		return command{kind: cmdConnect, arg: rest}
	case "disconnect":
		if rest == "" {
			return command{kind: cmdDisconnect}
		}
	case "help":
		if rest == "" {
			return command{kind: cmdHelp}
		}
	case "clear":
		if rest == "" {
			return command{kind: cmdClear}
		}
	case "quit", "exit":
		if rest == "" {
			return command{kind: cmdQuit}
		}
	}
	return command{kind: cmdMessage, arg: line}
}

// shortIdentity abbreviates long identities to first6...last4.
func shortIdentity(id string) string {
	if utf8.RuneCountInString(id) <= 12 {
		return id
	}
	r := []rune(id)
	return string(r[:6]) + "..." + string(r[len(r)-4:])
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run reads lines until quit, end of input, or ctx is cancelled.
func (s *Shell) Run(ctx context.Context, eng Engine) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.printPrompt()
	for {
		select {
		case <-ctx.Done():
			s.println("")
			s.println(pterm.Info.Sprint("Exiting..."))
			return nil

		case err := <-readErr:
			return err

		case line := <-lines:
			if quit := s.handle(eng, parseCommand(line)); quit {
				s.println("")
				s.println(pterm.Info.Sprint("Goodbye!"))
				return nil
			}
			s.printPrompt()
		}
	}
}

// handle runs one command and reports whether the shell should exit.
func (s *Shell) handle(eng Engine, cmd command) bool {
	switch cmd.kind {
	case cmdNone:

	case cmdQuit:
		return true

	case cmdHelp:
		s.Help(eng.State() == negotiation.Open)

	case cmdClear:
		s.clear()
		s.Help(eng.State() == negotiation.Open)

	case cmdConnect:
		if err := eng.Connect(cmd.arg); err != nil {
			s.println(pterm.Error.Sprint(capitalize(err.Error())))
			break
		}
		s.println(pterm.Info.Sprintf("Connecting to %s...", shortIdentity(strings.TrimSpace(cmd.arg))))

	case cmdDisconnect:
		if err := eng.Disconnect(); err != nil {
			s.println(pterm.Error.Sprint(capitalize(err.Error())))
		}

	case cmdMessage:
		if err := eng.Send(cmd.arg); err != nil {
			s.println(pterm.Error.Sprint(capitalize(err.Error())))
			break
		}
		s.println(pterm.FgCyan.Sprint("You: ") + cmd.arg)
	}
	return false
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Banner prints the header box with the local identity.
func (s *Shell) Banner() {
	box := pterm.DefaultBox.WithTitle("Rendezvous Messenger").Sprint("Your identity: " + s.identity)
	s.println(box)
	s.println("")
}

// Help prints the command list.
func (s *Shell) Help(connected bool) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	b.WriteString("   connect <identity>  - Connect to another user\n")
	b.WriteString("   disconnect          - Close the current connection\n")
	b.WriteString("   help                - Show this help\n")
	b.WriteString("   clear               - Clear terminal\n")
	b.WriteString("   quit                - Exit\n")
	if connected {
		b.WriteString("Connected! Just type your message and press Enter to send.\n")
	} else {
		b.WriteString("Start by connecting to another identity.\n")
	}
	b.WriteString(strings.Repeat("─", 60))
	s.println(b.String())
}

// Notify renders one engine notification.
func (s *Shell) Notify(n negotiation.Notification) {
	var line string
	switch n.Kind {
	case negotiation.NotifyRegistered:
		line = pterm.Success.Sprintf("Registered as %s", shortIdentity(n.Peer))

	case negotiation.NotifyMessage:
		line = pterm.FgMagenta.Sprint(shortIdentity(n.From)+": ") + n.Text

	case negotiation.NotifyError:
		line = pterm.Error.Sprint(capitalize(n.Message))

	case negotiation.NotifyRelayLost:
		line = pterm.Warning.Sprintf("Relay disconnected (%s). Restart to connect to new peers.", n.Message)

	case negotiation.NotifyState:
		line = stateLine(n)
	}
	if line == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tty {
		// Overwrite the pending prompt.
		fmt.Fprint(s.out, "\r\x1b[K")
	}
	pterm.Fprintln(s.out, line)
	fmt.Fprint(s.out, prompt)
}

func stateLine(n negotiation.Notification) string {
	peer := shortIdentity(n.Peer)
	switch n.State {
	case negotiation.Answering:
		return pterm.Info.Sprintf("Incoming connection from %s", peer)
	case negotiation.Connecting:
		return pterm.Info.Sprintf("Negotiating with %s...", peer)
	case negotiation.Open:
		return pterm.Success.Sprintf("Connected to %s. Type a message and press Enter to send.", peer)
	case negotiation.Closed:
		return pterm.Warning.Sprintf("Connection to %s closed", peer)
	}
	return ""
}

func (s *Shell) println(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pterm.Fprintln(s.out, text)
}

func (s *Shell) printPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, prompt)
}

func (s *Shell) clear() {
	if !s.tty {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, "\x1b[H\x1b[2J")
}

func capitalize(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return strings.ToUpper(string(r)) + msg[size:]
}
