package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/reversinet/link/internal/config"
	"github.com/reversinet/link/internal/peer"
	"github.com/reversinet/link/internal/persist"
	"github.com/reversinet/link/internal/protocol"
	"github.com/reversinet/link/internal/scripting"
	"go.uber.org/zap"
)

// player is what both peer roles offer the collaborator.
type player interface {
	scripting.Actor
	Events() <-chan protocol.Event
	Info() peer.Info
	Close()
}

type openFunc func(peer.Options) (player, func(context.Context) error, error)

// play wires the journal and the collaborator around one peer and runs it
// until ctx is done, the user quits, or a client's session ends.
func play(ctx context.Context, out io.Writer, role protocol.Role, open openFunc) error {
	journal, closeJournal, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer closeJournal()

	opts := peer.OptionsFromConfig(cfg, role)
	if journal != nil {
		opts.Recorder = journal
	}

	var engine *scripting.Engine
	if cfg.Script.Path != "" {
		engine, err = scripting.NewEngine(cfg.Script.Path, log)
		if err != nil {
			return fmt.Errorf("script: %w", err)
		}
		defer engine.Close()
	}

	p, run, err := open(opts)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	var lines <-chan string
	if engine == nil {
		lines = readLines(os.Stdin)
		fmt.Fprintln(out, `type "help" for commands`)
	}
	err = collaborate(ctx, out, role, p, engine, lines)

	p.Close()
	if rerr := <-runErr; err == nil && rerr != nil && !errors.Is(rerr, context.Canceled) {
		err = rerr
	}
	return err
}

func collaborate(ctx context.Context, out io.Writer, role protocol.Role, p player, engine *scripting.Engine, lines <-chan string) error {
	events := p.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, describe(ev))
			if engine != nil {
				if act, ok := engine.OnEvent(ev); ok {
					if err := act.Apply(p); err != nil {
						log.Warn("script action failed", zap.String("action", act.Kind), zap.Error(err))
					}
				}
			}
			if role == protocol.RoleClient && endsSession(ev) {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			quit, err := runCommand(out, p, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func endsSession(ev protocol.Event) bool {
	switch ev.(type) {
	case protocol.ConnectionFailed, protocol.Disconnected:
		return true
	}
	return false
}

func openJournal(ctx context.Context, jc config.JournalConfig) (*persist.Journal, func(), error) {
	if jc.DSN == "" {
		return nil, func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(dbCtx, jc, log)
	if err != nil {
		return nil, nil, err
	}
	if err := persist.RunMigrations(dbCtx, db.Pool, log); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	j := persist.NewJournal(persist.NewJournalRepo(db), jc, log)
	j.Start()
	return j, func() {
		j.Close()
		db.Close()
	}, nil
}
