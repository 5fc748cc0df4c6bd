// Package reconcile persists optimistic changes to the remote store.
//
// Requests run concurrently and are not serialized. Success is inert: the
// optimistic state already shows the result. Any failure throws away all
// local optimism for the board by reloading the canonical snapshot, then
// raises an alert for the user. Failures that overlap share one reload.
//
// The one merge on success is the server-resolved task returned by
// updateTask, and only from the newest request for that task. Older acks
// arriving late are dropped.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/CrowderSoup/boardsync/board/state"
	"github.com/CrowderSoup/boardsync/models"
)

// Remote is the persistence boundary
type Remote interface {
	GetBoard(ctx context.Context, boardID string) (*models.BoardSnapshot, error)
	MoveCard(ctx context.Context, cardID, targetListID string, position int) error
	ReorderCard(ctx context.Context, cardID string, position int) error
	ReorderList(ctx context.Context, listID string, position int, listOrder []string) error
	UpdateTask(ctx context.Context, cardID, taskID string, update models.TaskUpdate) (*models.Task, error)
}

const defaultReloadTimeout = 10 * time.Second

type Reconciler struct {
	ctx     context.Context
	boardID string
	remote  Remote
	store   *state.Store
	log     zerolog.Logger

	reloadTimeout time.Duration
	reloads       singleflight.Group
	wg            sync.WaitGroup

	mu       sync.Mutex
	seq      uint64
	taskSeqs map[string]uint64 // newest request per task
}

type Option func(*Reconciler)

// WithReloadTimeout bounds the reload that follows a failure
func WithReloadTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.reloadTimeout = d
		}
	}
}

// New creates a reconciler for boardID. ctx is the parent of every request.
func New(ctx context.Context, boardID string, remote Remote, store *state.Store, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		ctx:           ctx,
		boardID:       boardID,
		remote:        remote,
		store:         store,
		log:           log.With().Str("component", "reconcile").Str("board", boardID).Logger(),
		reloadTimeout: defaultReloadTimeout,
		taskSeqs:      map[string]uint64{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReorderCard persists a same-list move. position is the card's new index.
func (r *Reconciler) ReorderCard(cardID string, position int) {
	r.run("reorderCard", []string{cardID}, func(ctx context.Context) error {
		return r.remote.ReorderCard(ctx, cardID, position)
	})
}

// MoveCard persists a cross-list move
func (r *Reconciler) MoveCard(cardID, targetListID string, position int) {
	r.run("moveCard", []string{cardID}, func(ctx context.Context) error {
		return r.remote.MoveCard(ctx, cardID, targetListID, position)
	})
}

// ReorderList persists a list move with the full resulting order as a hint
func (r *Reconciler) ReorderList(listID string, position int, listOrder []string) {
	order := append([]string{}, listOrder...)
	r.run("reorderList", order, func(ctx context.Context) error {
		return r.remote.ReorderList(ctx, listID, position, order)
	})
}

// UpdateTask persists a task change. The server-resolved task is merged
// only if no newer update of the same task was started in the meantime.
func (r *Reconciler) UpdateTask(cardID, taskID string, update models.TaskUpdate) {
	seq := r.beginTask(taskID)
	r.run("updateTask", []string{taskID}, func(ctx context.Context) error {
		task, err := r.remote.UpdateTask(ctx, cardID, taskID, update)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		if !r.finishTask(taskID, seq) {
			r.log.Debug().Str("task", taskID).Uint64("seq", seq).Msg("stale task ack dropped")
			return nil
		}
		r.store.UpsertTask(cardID, *task)
		return nil
	})
}

func (r *Reconciler) beginTask(taskID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.taskSeqs[taskID] = r.seq
	return r.seq
}

// finishTask reports whether seq is still the newest request for taskID
func (r *Reconciler) finishTask(taskID string, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskSeqs[taskID] != seq {
		return false
	}
	delete(r.taskSeqs, taskID)
	return true
}

// run marks ids pending for the lifetime of the request so push merges
// leave them alone
func (r *Reconciler) run(op string, ids []string, call func(ctx context.Context) error) {
	r.store.MarkPending(ids...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.store.ClearPending(ids...)

		if err := call(r.ctx); err != nil {
			r.fail(op, err)
			return
		}
		r.log.Debug().Str("op", op).Strs("ids", ids).Msg("persisted")
	}()
}

func (r *Reconciler) fail(op string, err error) {
	r.log.Error().Err(err).Str("op", op).Msg("sync failed, reloading board")

	msg := "Could not save your change. The board was reloaded."
	if reloadErr := r.Reload(r.ctx); reloadErr != nil {
		msg = "Could not save your change and the board could not be reloaded."
		err = fmt.Errorf("%s: %w (reload: %v)", op, err, reloadErr)
	} else {
		err = fmt.Errorf("%s: %w", op, err)
	}

	r.store.Notify(state.Change{
		Kind:    state.ChangeAlert,
		Version: r.store.Version(),
		Message: msg,
		Err:     err,
	})
}

// Reload fetches the canonical board and replaces the store with it.
// Concurrent calls share one request.
func (r *Reconciler) Reload(ctx context.Context) error {
	_, err, shared := r.reloads.Do(r.boardID, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, r.reloadTimeout)
		defer cancel()

		snap, err := r.remote.GetBoard(ctx, r.boardID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload board: %w", err)
		}
		r.store.Replace(*snap)
		return nil, nil
	})
	if shared {
		r.log.Debug().Msg("joined in-flight reload")
	}
	return err
}

// Wait blocks until every request started so far, including any reload it
// triggered, has finished
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
