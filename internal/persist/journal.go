package persist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reversinet/link/internal/config"
	"go.uber.org/zap"
)

// Journal directions.
const (
	DirIn    = "in"
	DirOut   = "out"
	DirEvent = "event"
)

// JournalEntry is one line of a match's audit trail: a message that crossed
// the wire, or an event raised to the game logic.
type JournalEntry struct {
	ConnID    uint64
	Role      string
	Local     string
	Remote    string
	Direction string
	Type      string
	Content   string
	Syn       string
	Event     string
	At        time.Time
}

// Postgres TEXT cannot hold NUL, and names and contents come from the remote
// peer.
var nulReplacer = strings.NewReplacer("\x00", "\uFFFD")

// textSafe returns e with every NUL byte replaced by U+FFFD.
func (e JournalEntry) textSafe() JournalEntry {
	for _, f := range []*string{&e.Role, &e.Local, &e.Remote, &e.Direction, &e.Type, &e.Content, &e.Syn, &e.Event} {
		if strings.IndexByte(*f, 0) >= 0 {
			*f = nulReplacer.Replace(*f)
		}
	}
	return e
}

// JournalRepo writes journal entries to Postgres.
type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// WriteBatch inserts entries in a single transaction.
func (r *JournalRepo) WriteBatch(ctx context.Context, entries []JournalEntry) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		e = e.textSafe()
		if _, err := tx.Exec(ctx,
			`INSERT INTO match_journal (conn_id, role, local_name, remote_name, direction, msg_type, content, syn, event, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			int64(e.ConnID), e.Role, e.Local, e.Remote, e.Direction, e.Type, e.Content, e.Syn, e.Event, e.At,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// BatchWriter is where a Journal flushes to.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries []JournalEntry) error
}

// Journal buffers entries and flushes them from its own goroutine, so the
// caller never waits on the database. When the buffer is full new entries
// are dropped.
type Journal struct {
	w         BatchWriter
	in        chan JournalEntry
	batchSize int
	interval  time.Duration
	log       *zap.Logger

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
}

func NewJournal(w BatchWriter, cfg config.JournalConfig, log *zap.Logger) *Journal {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Journal{
		w:         w,
		in:        make(chan JournalEntry, cfg.BufferSize),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		log:       log,
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the flush goroutine.
func (j *Journal) Start() {
	go j.flushLoop()
}

// Record queues one entry without blocking.
func (j *Journal) Record(e JournalEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case j.in <- e:
	default:
		j.log.Warn("journal buffer full, entry dropped",
			zap.Uint64("conn", e.ConnID),
			zap.String("direction", e.Direction),
		)
	}
}

// Close flushes what is buffered and stops the flush goroutine.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.closeCh)
	})
	<-j.doneCh
}

func (j *Journal) flushLoop() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	batch := make([]JournalEntry, 0, j.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.w.WriteBatch(ctx, batch); err != nil {
			j.log.Error("journal flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.in:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.closeCh:
			for {
				select {
				case e := <-j.in:
					batch = append(batch, e)
					if len(batch) >= j.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
