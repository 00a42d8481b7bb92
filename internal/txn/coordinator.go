// Package txn coordinates server-side transactions: opaque tokens mapped to
// SERIALIZABLE sql transactions, a per-token exclusive lock, explicit and
// implicit lifecycles, idle sweep, and serialization-conflict retry.
package txn

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/db"
)

// State is a transaction's lifecycle position. All transitions leave Open
// and every non-Open state is terminal.
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
	// StateTerminated means the idle sweeper rolled the transaction back.
	StateTerminated
)

// String returns the stable state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// transaction is one coordinator-owned handle. mu is the per-token
// exclusive lock: at most one in-flight request may use the token.
type transaction struct {
	token      string
	actorID    int64
	operation  string
	tx         *sql.Tx
	mu         sync.Mutex
	state      State
	lastActive time.Time
	closedAt   time.Time
}

// Coordinator owns every explicit transaction in the process.
type Coordinator struct {
	db          *sql.DB
	log         *zap.Logger
	idleTimeout time.Duration

	mu          sync.Mutex
	byToken     map[string]*transaction
	openByActor map[int64]string

	onTerminated func()
}

// closedRetention is how long a closed token stays known so late reuse gets
// a precise "already closed" answer instead of "no such transaction".
const closedRetention = 10 * time.Minute

// NewCoordinator creates a Coordinator over the given database handle.
func NewCoordinator(database *sql.DB, log *zap.Logger, idleTimeout time.Duration) *Coordinator {
	return &Coordinator{
		db:          database,
		log:         log,
		idleTimeout: idleTimeout,
		byToken:     make(map[string]*transaction),
		openByActor: make(map[int64]string),
	}
}

// OnTerminated registers a callback invoked each time the sweeper
// terminates an idle transaction. Used for metrics.
func (c *Coordinator) OnTerminated(f func()) {
	c.onTerminated = f
}

// Begin opens a new explicit transaction for the actor and returns its
// opaque token. An actor may hold at most one open transaction.
func (c *Coordinator) Begin(ctx context.Context, actorID int64, operation string) (string, error) {
	token := uuid.NewString()

	// Reserve the actor's slot before touching the database; two racing
	// Begin calls must not both pass the one-per-actor check.
	c.mu.Lock()
	if open, ok := c.openByActor[actorID]; ok {
		c.mu.Unlock()
		return "", apperr.Newf(apperr.KindInvalidRequest, "actor already holds open transaction %s", open)
	}
	c.openByActor[actorID] = token
	c.mu.Unlock()

	sqlTx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		c.mu.Lock()
		if c.openByActor[actorID] == token {
			delete(c.openByActor, actorID)
		}
		c.mu.Unlock()
		return "", apperr.Wrap(apperr.KindInternal, "begin transaction", err)
	}

	t := &transaction{
		token:      token,
		actorID:    actorID,
		operation:  operation,
		tx:         sqlTx,
		state:      StateOpen,
		lastActive: time.Now(),
	}

	c.mu.Lock()
	c.byToken[t.token] = t
	c.mu.Unlock()

	c.log.Debug("transaction opened",
		zap.String("token", t.token),
		zap.Int64("actor", actorID),
		zap.String("operation", operation))
	return t.token, nil
}

// lookup fetches and exclusively locks the transaction for the token.
// A second concurrent request on the same token fails fast with
// TransactionBusy rather than queueing, to bound tail latency.
func (c *Coordinator) lookup(token string, actorID int64) (*transaction, error) {
	c.mu.Lock()
	t, ok := c.byToken[token]
	c.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown transaction token")
	}
	if !t.mu.TryLock() {
		return nil, apperr.New(apperr.KindTransactionBusy, "transaction is in use by another request")
	}
	if t.actorID != actorID {
		t.mu.Unlock()
		// Deliberately indistinguishable from a bad token.
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown transaction token")
	}
	if t.state != StateOpen {
		t.mu.Unlock()
		return nil, apperr.Newf(apperr.KindInvalidRequest, "transaction already %s", t.state)
	}
	return t, nil
}

// With runs fn inside the explicit transaction identified by token. The
// transaction stays open afterwards; commit and rollback are separate
// calls. Storage serialization failures surface as RetryableConflict.
func (c *Coordinator) With(ctx context.Context, token string, actorID int64, fn func(tx *sql.Tx) error) error {
	t, err := c.lookup(token, actorID)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	if err := fn(t.tx); err != nil {
		return c.classify(err)
	}
	t.lastActive = time.Now()
	return nil
}

// Commit commits the explicit transaction and closes its token.
func (c *Coordinator) Commit(ctx context.Context, token string, actorID int64) error {
	t, err := c.lookup(token, actorID)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	err = t.tx.Commit()
	if err != nil {
		// A failed commit (serialization conflict at commit time) means
		// the storage layer rolled the transaction back.
		c.close(t, StateRolledBack)
		return c.classify(err)
	}
	c.close(t, StateCommitted)
	return nil
}

// Rollback rolls the explicit transaction back and closes its token.
func (c *Coordinator) Rollback(ctx context.Context, token string, actorID int64) error {
	t, err := c.lookup(token, actorID)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	err = t.tx.Rollback()
	c.close(t, StateRolledBack)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "rollback", err)
	}
	return nil
}

// close moves the transaction to a terminal state. Caller holds t.mu.
func (c *Coordinator) close(t *transaction, state State) {
	t.state = state
	t.closedAt = time.Now()
	c.mu.Lock()
	if c.openByActor[t.actorID] == t.token {
		delete(c.openByActor, t.actorID)
	}
	c.mu.Unlock()
}

// RunImplicit begins a SERIALIZABLE transaction, runs fn, and commits,
// rolling back on any error — the whole lifecycle inside one call. Child
// operations invoked by fn must use the provided tx, never open their own.
func (c *Coordinator) RunImplicit(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "begin transaction", err)
	}

	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return c.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return c.classify(err)
	}
	return nil
}

// classify wraps storage serialization failures and deadlocks as
// RetryableConflict; everything else passes through unchanged.
func (c *Coordinator) classify(err error) error {
	if db.IsSerializationFailure(err) {
		return apperr.Wrap(apperr.KindRetryableConflict, "storage serialization conflict", err)
	}
	return err
}

// Retry replays op up to attempts times while it keeps failing with
// RetryableConflict. Each attempt must rebuild all of its state from a
// fresh snapshot; partial replay risks duplicated side effects.
func Retry(ctx context.Context, attempts int, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if !apperr.Retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}

// StartSweeper launches the idle-transaction sweeper: every interval it
// force-rolls-back open transactions idle past the timeout (the only
// spontaneous state transition) and evicts long-closed token records.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *Coordinator) sweep(now time.Time) {
	c.mu.Lock()
	candidates := make([]*transaction, 0, len(c.byToken))
	for _, t := range c.byToken {
		candidates = append(candidates, t)
	}
	c.mu.Unlock()

	for _, t := range candidates {
		// Skip tokens mid-request; they are active by definition.
		if !t.mu.TryLock() {
			continue
		}
		switch {
		case t.state == StateOpen && now.Sub(t.lastActive) > c.idleTimeout:
			if err := t.tx.Rollback(); err != nil {
				c.log.Error("failed to roll back idle transaction",
					zap.String("token", t.token), zap.Error(err))
			}
			c.close(t, StateTerminated)
			if c.onTerminated != nil {
				c.onTerminated()
			}
			c.log.Info("idle transaction terminated",
				zap.String("token", t.token),
				zap.Int64("actor", t.actorID),
				zap.String("operation", t.operation))
		case t.state != StateOpen && now.Sub(t.closedAt) > closedRetention:
			c.mu.Lock()
			delete(c.byToken, t.token)
			c.mu.Unlock()
		}
		t.mu.Unlock()
	}
}
