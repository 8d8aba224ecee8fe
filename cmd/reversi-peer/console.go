package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/reversinet/link/internal/peer"
	"github.com/reversinet/link/internal/protocol"
	"github.com/reversinet/link/internal/scripting"
)

const helpText = `commands:
  move <x> <y>      place a stone (0..7)
  skip              pass this turn
  yield             concede the match
  regret            ask to undo the last move
  regret yes|no     answer the opponent's regret request
  new yes|no        agree to or decline a rematch
  leave             tell the opponent you are going
  status            show the session
  quit              exit without sending leave`

// readLines delivers stdin lines until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// runCommand executes one console line. It reports true when the user
// asked to quit.
func runCommand(out io.Writer, p player, line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(out, helpText)
		return false, nil
	case "status":
		fmt.Fprintln(out, describeInfo(p.Info()))
		return false, nil
	}

	act, err := parseCommand(fields)
	if err != nil {
		return false, err
	}
	return false, act.Apply(p)
}

func parseCommand(fields []string) (scripting.Action, error) {
	switch fields[0] {
	case "move", "m":
		if len(fields) != 3 {
			return scripting.Action{}, fmt.Errorf("usage: move <x> <y>")
		}
		x, err := strconv.Atoi(fields[1])
		if err != nil {
			return scripting.Action{}, fmt.Errorf("bad x %q", fields[1])
		}
		y, err := strconv.Atoi(fields[2])
		if err != nil {
			return scripting.Action{}, fmt.Errorf("bad y %q", fields[2])
		}
		return scripting.Action{Kind: scripting.ActionMove, X: x, Y: y}, nil
	case "skip":
		return scripting.Action{Kind: scripting.ActionSkip}, nil
	case "yield":
		return scripting.Action{Kind: scripting.ActionYield}, nil
	case "regret":
		if len(fields) == 1 {
			return scripting.Action{Kind: scripting.ActionRegret}, nil
		}
		accept, err := yesNo(fields[1])
		return scripting.Action{Kind: scripting.ActionRegretAnswer, Accept: accept}, err
	case "new", "rematch":
		if len(fields) != 2 {
			return scripting.Action{}, fmt.Errorf("usage: new yes|no")
		}
		accept, err := yesNo(fields[1])
		return scripting.Action{Kind: scripting.ActionRematch, Accept: accept}, err
	case "leave":
		return scripting.Action{Kind: scripting.ActionLeave}, nil
	}
	return scripting.Action{}, fmt.Errorf("unknown command %q, try help", fields[0])
}

func yesNo(s string) (bool, error) {
	switch s {
	case "yes", "y", "accept", "accepted":
		return true, nil
	case "no", "n", "reject", "rejected":
		return false, nil
	}
	return false, fmt.Errorf("expected yes or no, got %q", s)
}

func describe(ev protocol.Event) string {
	switch ev := ev.(type) {
	case protocol.Listening:
		return fmt.Sprintf("* listening on %s", ev.Addr)
	case protocol.Connected:
		return fmt.Sprintf("* connected to %s (we are the %s)", ev.RemoteName, ev.Role)
	case protocol.HandshakeComplete:
		return "* handshake complete"
	case protocol.ConnectionFailed:
		return fmt.Sprintf("* connection refused: %s", ev.Reason)
	case protocol.PeerMoved:
		return fmt.Sprintf("> opponent played %d,%d", ev.X, ev.Y)
	case protocol.PeerSkipped:
		return "> opponent skipped"
	case protocol.PeerYielded:
		return "> opponent yielded"
	case protocol.RegretRequested:
		return "> opponent asks to undo the last move (regret yes|no)"
	case protocol.RegretAccepted:
		return "> opponent accepted the undo"
	case protocol.RegretRejected:
		return "> opponent refused the undo"
	case protocol.PeerReady:
		return "> opponent is ready for another game"
	case protocol.PeerLeft:
		return "> opponent left"
	case protocol.TransportError:
		return fmt.Sprintf("! network error: %v", ev.Err)
	case protocol.Disconnected:
		return "* disconnected"
	}
	return "* " + ev.Kind().String()
}

func describeInfo(i peer.Info) string {
	remote := i.RemoteName
	if remote == "" {
		remote = "-"
	}
	return fmt.Sprintf("%s %q vs %q, %s, next syn %d, expecting %d",
		i.Role, i.LocalName, remote, i.State, i.NextSeq, i.ExpectSeq)
}
