// Package ledger records what happened during each automation run.
//
// A run is opened when execution starts, receives one ActionRecord per tool
// call in call order, and is sealed exactly once with its outcome. Sealing
// fixes the duration and hands the run to a Store so that later analysis can
// mine it. Records are never reordered, merged, or edited after append.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/webpilot/internal/models"
)

// ErrAlreadySealed is returned when recording to or sealing a sealed run.
var ErrAlreadySealed = errors.New("run already sealed")

// ErrNotFound is returned by stores when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Store persists ledger entries keyed by run id.
type Store interface {
	Save(ctx context.Context, run *models.TaskRun) error
	Get(ctx context.Context, id string) (*models.TaskRun, error)
	List(ctx context.Context, opts ListOptions) ([]*models.TaskRun, error)
	Clear(ctx context.Context) (int, error)
	Close() error
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	Command    string         // exact originating command
	Outcome    models.Outcome // only runs with this outcome
	SealedOnly bool           // skip runs that were never sealed
	Limit      int            // newest first, at most Limit entries
}

// Ledger opens runs and persists them through a Store when sealed.
type Ledger struct {
	store Store
	clock func() time.Time
	newID func(time.Time) string
}

// New creates a Ledger backed by store. A nil store keeps runs in memory only.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		clock: time.Now,
		newID: NewRunID,
	}
}

// Store returns the backing store (may be nil).
func (l *Ledger) Store() Store {
	return l.store
}

// NewRunID returns an id of the form task_<unixms>_<8 hex chars>.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), suffix)
}

// Open starts a new pending run.
func (l *Ledger) Open(command, instructions string, mode models.ExecutionMode) *Run {
	now := l.clock()
	return &Run{
		ledger: l,
		run: &models.TaskRun{
			ID:           l.newID(now),
			CreatedAt:    now,
			Command:      command,
			Instructions: instructions,
			Mode:         mode,
			Actions:      []models.ActionRecord{},
			Outcome:      models.OutcomePending,
		},
	}
}

// Run is the handle for one open ledger entry. It is safe for concurrent use,
// though the agent loop records from a single goroutine.
type Run struct {
	mu     sync.Mutex
	ledger *Ledger
	run    *models.TaskRun
}

// ID returns the run's unique id.
func (r *Run) ID() string {
	return r.run.ID
}

// Record appends one action outcome. The detail map is copied so later
// mutation by the caller does not reach the ledger.
func (r *Run) Record(action string, success bool, errText string, detail map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run.IsSealed() {
		return fmt.Errorf("record %s on %s: %w", action, r.run.ID, ErrAlreadySealed)
	}

	rec := models.ActionRecord{
		Action:    action,
		Success:   success,
		Timestamp: r.ledger.clock(),
		Error:     errText,
	}
	if len(detail) > 0 {
		rec.Detail = make(map[string]interface{}, len(detail))
		for k, v := range detail {
			rec.Detail[k] = v
		}
	}
	r.run.Actions = append(r.run.Actions, rec)
	return nil
}

// Seal fixes the outcome and duration and persists the run. It must be
// called exactly once; later calls return ErrAlreadySealed and change nothing.
// runErr, when non-nil, is stored as the top-level error and its kind.
func (r *Run) Seal(ctx context.Context, outcome models.Outcome, runErr error) error {
	r.mu.Lock()
	if r.run.IsSealed() {
		r.mu.Unlock()
		return fmt.Errorf("seal %s: %w", r.run.ID, ErrAlreadySealed)
	}

	end := r.ledger.clock()
	duration := end.Sub(r.run.CreatedAt)
	if duration < 0 {
		duration = 0
	}
	r.run.Outcome = outcome
	r.run.Duration = duration
	r.run.SealedAt = &end
	if runErr != nil {
		r.run.Error = runErr.Error()
		r.run.ErrorKind = models.KindOf(runErr)
	}
	snapshot := r.run.Clone()
	r.mu.Unlock()

	if r.ledger.store == nil {
		return nil
	}
	if err := r.ledger.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persist run %s: %w", snapshot.ID, err)
	}
	return nil
}

// Sealed reports whether Seal has been called.
func (r *Run) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.IsSealed()
}

// Snapshot returns a deep copy of the current run state.
func (r *Run) Snapshot() *models.TaskRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.Clone()
}

// OpenStore opens the store for the configured backend ("sqlite" or "json").
func OpenStore(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "json":
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}
