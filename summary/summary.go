// summary.go - Asynchrones Schreiben und Lesen von Skalar-Zusammenfassungen
//
// Enthaelt:
// - Scalar/Run: Datentypen
// - Writer: Schreibt Werte im Hintergrund in die Datenbank eines Arbeitsverzeichnisses
// - Reader: Liest Runs, Tags und Werte
package summary

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrWriterClosed is returned by Add after Close.
var ErrWriterClosed = errors.New("summary writer is closed")

// Scalar is one tagged value at a step.
type Scalar struct {
	Tag      string    `json:"tag"`
	Step     int64     `json:"step"`
	Value    float64   `json:"value"`
	WallTime time.Time `json:"wall_time"`
}

// Run aggregates all instances of a named run, e.g. "train" or "eval".
type Run struct {
	Name        string    `json:"name"`
	Instances   int       `json:"instances"`
	Scalars     int       `json:"scalars"`
	LastCreated time.Time `json:"last_created"`
}

// batchSize bounds the number of scalars per transaction.
const batchSize = 256

// Writer appends scalars to a new instance of a run. Writes happen on a
// background goroutine that Close joins.
type Writer struct {
	db    *database
	runID string
	run   string

	mu     sync.Mutex
	closed bool
	events chan Scalar
	group  errgroup.Group
}

// NewWriter opens the summary database of dir and starts a run instance.
func NewWriter(dir, run string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := newDatabase(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := db.createRun(id.String(), run); err != nil {
		db.Close()
		return nil, err
	}

	w := &Writer{
		db:     db,
		runID:  id.String(),
		run:    run,
		events: make(chan Scalar, batchSize),
	}
	w.group.Go(w.loop)

	slog.Debug("summary writer started", "dir", dir, "run", run, "id", w.runID)
	return w, nil
}

// Run returns the run name.
func (w *Writer) Run() string {
	return w.run
}

func (w *Writer) loop() error {
	var firstErr error
	batch := make([]Scalar, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.db.insertScalars(w.runID, batch); err != nil {
			slog.Warn("failed to write summaries", "run", w.run, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		batch = batch[:0]
	}

	for s := range w.events {
		batch = append(batch, s)

	drain:
		for len(batch) < batchSize {
			select {
			case s, ok := <-w.events:
				if !ok {
					break drain
				}
				batch = append(batch, s)
			default:
				break drain
			}
		}

		flush()
	}

	flush()
	return firstErr
}

// Add queues a scalar. It blocks while the queue is full.
func (w *Writer) Add(tag string, step int64, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.events <- Scalar{Tag: tag, Step: step, Value: value, WallTime: time.Now()}
	return nil
}

// Close flushes pending scalars, joins the writer goroutine and closes the
// database. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()

	err := w.group.Wait()
	return errors.Join(err, w.db.Close())
}

// Reader queries the summary database of a work directory.
type Reader struct {
	db *database
}

// Open opens the summary database of dir. It fails when none exists.
func Open(dir string) (*Reader, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := newDatabase(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Runs(ctx context.Context) ([]Run, error) {
	return r.db.runs(ctx)
}

func (r *Reader) Tags(ctx context.Context, run string) ([]string, error) {
	return r.db.tags(ctx, run)
}

// Scalars returns the values of run ordered by step. An empty tag selects
// all tags.
func (r *Reader) Scalars(ctx context.Context, run, tag string) ([]Scalar, error) {
	return r.db.scalars(ctx, run, tag)
}

func (r *Reader) Close() error {
	return r.db.Close()
}
