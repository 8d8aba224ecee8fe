package scripting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reversinet/link/internal/protocol"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Script actions.
const (
	ActionMove         = "move"
	ActionSkip         = "skip"
	ActionYield        = "yield"
	ActionRegret       = "regret"
	ActionRegretAnswer = "regret_answer"
	ActionRematch      = "rematch"
	ActionLeave        = "leave"
)

var ErrUnknownAction = errors.New("scripting: unknown action")

// Engine wraps a single gopher-lua VM running a headless player script.
// Single-goroutine access only (the event consumer).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and runs the script at path.
func NewEngine(path string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoFile(path); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	e.log.Debug("loaded lua script", zap.String("file", path))
	return e, nil
}

// NewEngineFromString runs src instead of a file.
func NewEngineFromString(src string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoString(src); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load script: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("BOARD_SIZE", lua.LNumber(protocol.BoardSize))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))
	return e
}

// luaLog lets a script write to the process log: log("text").
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("script", zap.String("msg", L.CheckString(1)))
	return 0
}

// Action is what a script asks the peer to do in response to an event.
type Action struct {
	Kind   string
	X, Y   int
	Accept bool
}

// Actor is the part of a peer an Action drives.
type Actor interface {
	Move(x, y int) error
	Skip() error
	Yield() error
	RequestRegret() error
	AnswerRegret(accept bool) error
	Rematch(accept bool) error
	Leave() error
}

// Apply performs a on p.
func (a Action) Apply(p Actor) error {
	switch a.Kind {
	case ActionMove:
		return p.Move(a.X, a.Y)
	case ActionSkip:
		return p.Skip()
	case ActionYield:
		return p.Yield()
	case ActionRegret:
		return p.RequestRegret()
	case ActionRegretAnswer:
		return p.AnswerRegret(a.Accept)
	case ActionRematch:
		return p.Rematch(a.Accept)
	case ActionLeave:
		return p.Leave()
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
}

// OnEvent calls the Lua on_event function with ev packed as a table. It
// returns false when the script defines no handler, fails, or returns no
// action table.
func (e *Engine) OnEvent(ev protocol.Event) (Action, bool) {
	fn := e.vm.GetGlobal("on_event")
	if fn == lua.LNil {
		return Action{}, false
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.eventTable(ev)); err != nil {
		e.log.Error("lua on_event error", zap.Error(err), zap.String("event", ev.Kind().String()))
		return Action{}, false
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return Action{}, false
	}
	act := Action{
		Kind:   strings.ToLower(lStr(rt, "action")),
		X:      lInt(rt, "x"),
		Y:      lInt(rt, "y"),
		Accept: lua.LVAsBool(rt.RawGetString("accept")),
	}
	if act.Kind == "" {
		return Action{}, false
	}
	return act, true
}

func (e *Engine) eventTable(ev protocol.Event) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("kind", lua.LString(ev.Kind().String()))

	switch ev := ev.(type) {
	case protocol.Connected:
		t.RawSetString("role", lua.LString(ev.Role.String()))
		t.RawSetString("name", lua.LString(ev.RemoteName))
	case protocol.ConnectionFailed:
		t.RawSetString("reason", lua.LString(ev.Reason))
	case protocol.PeerMoved:
		t.RawSetString("x", lua.LNumber(ev.X))
		t.RawSetString("y", lua.LNumber(ev.Y))
	case protocol.TransportError:
		t.RawSetString("reason", lua.LString(ev.Error()))
	case protocol.Listening:
		t.RawSetString("addr", lua.LString(ev.Addr))
	}
	return t
}

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
