package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/reversinet/link/internal/peer"
	"github.com/reversinet/link/internal/protocol"
	"github.com/reversinet/link/internal/scripting"
)

type fakePlayer struct {
	calls []string
	info  peer.Info
}

func (f *fakePlayer) Move(x, y int) error           { f.calls = append(f.calls, "move"); return nil }
func (f *fakePlayer) Skip() error                   { f.calls = append(f.calls, "skip"); return nil }
func (f *fakePlayer) Yield() error                  { f.calls = append(f.calls, "yield"); return nil }
func (f *fakePlayer) RequestRegret() error          { f.calls = append(f.calls, "regret"); return nil }
func (f *fakePlayer) AnswerRegret(bool) error       { f.calls = append(f.calls, "answer"); return nil }
func (f *fakePlayer) Rematch(bool) error            { f.calls = append(f.calls, "rematch"); return nil }
func (f *fakePlayer) Leave() error                  { f.calls = append(f.calls, "leave"); return peer.ErrNotConnected }
func (f *fakePlayer) Events() <-chan protocol.Event { return nil }
func (f *fakePlayer) Info() peer.Info               { return f.info }
func (f *fakePlayer) Close()                        {}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want scripting.Action
		bad  bool
	}{
		{line: "move 3 4", want: scripting.Action{Kind: scripting.ActionMove, X: 3, Y: 4}},
		{line: "m 0 7", want: scripting.Action{Kind: scripting.ActionMove, X: 0, Y: 7}},
		{line: "skip", want: scripting.Action{Kind: scripting.ActionSkip}},
		{line: "yield", want: scripting.Action{Kind: scripting.ActionYield}},
		{line: "regret", want: scripting.Action{Kind: scripting.ActionRegret}},
		{line: "regret yes", want: scripting.Action{Kind: scripting.ActionRegretAnswer, Accept: true}},
		{line: "regret no", want: scripting.Action{Kind: scripting.ActionRegretAnswer}},
		{line: "new y", want: scripting.Action{Kind: scripting.ActionRematch, Accept: true}},
		{line: "leave", want: scripting.Action{Kind: scripting.ActionLeave}},
		{line: "move 3", bad: true},
		{line: "move a 4", bad: true},
		{line: "new", bad: true},
		{line: "regret maybe", bad: true},
		{line: "dance", bad: true},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got, err := parseCommand(strings.Fields(tc.line))
			if tc.bad {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("action = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRunCommand(t *testing.T) {
	var out bytes.Buffer
	p := &fakePlayer{info: peer.Info{Role: protocol.RoleServer, LocalName: "Bob", State: protocol.StateInSession}}

	if quit, err := runCommand(&out, p, "  MOVE 1 2 "); quit || err != nil {
		t.Fatalf("move: quit=%v err=%v", quit, err)
	}
	if quit, _ := runCommand(&out, p, ""); quit {
		t.Fatal("blank line quit")
	}
	if _, err := runCommand(&out, p, "leave"); !errors.Is(err, peer.ErrNotConnected) {
		t.Fatalf("leave error not passed through: %v", err)
	}
	if _, err := runCommand(&out, p, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), `"Bob" vs "-"`) {
		t.Fatalf("status output: %q", out.String())
	}
	if quit, _ := runCommand(&out, p, "quit"); !quit {
		t.Fatal("quit did not quit")
	}
	if strings.Join(p.calls, ",") != "move,leave" {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		ev   protocol.Event
		want string
	}{
		{protocol.PeerMoved{X: 3, Y: 4}, "3,4"},
		{protocol.Connected{Role: protocol.RoleClient, RemoteName: "Bob"}, "Bob"},
		{protocol.ConnectionFailed{Reason: "busy"}, "busy"},
		{protocol.TransportError{Err: errors.New("reset")}, "reset"},
		{protocol.Listening{Addr: "10.0.0.2:4000"}, "10.0.0.2:4000"},
	}
	for _, tc := range tests {
		if got := describe(tc.ev); !strings.Contains(got, tc.want) {
			t.Fatalf("describe(%#v) = %q", tc.ev, got)
		}
	}
}

func TestEndsSession(t *testing.T) {
	if !endsSession(protocol.Disconnected{}) || !endsSession(protocol.ConnectionFailed{}) {
		t.Fatal("session end not detected")
	}
	if endsSession(protocol.PeerLeft{}) {
		t.Fatal("PeerLeft alone does not end the session")
	}
}
