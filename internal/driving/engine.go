package driving

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/daeungkim/ta-dah/internal/geo"
	"github.com/daeungkim/ta-dah/internal/matching"
	"github.com/daeungkim/ta-dah/internal/metrics"
	"github.com/daeungkim/ta-dah/internal/stream"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultOperationTimeout = 3 * time.Second
	defaultAppendRetries    = 3
	retryInitialInterval    = 10 * time.Millisecond
	retryMaxInterval        = 200 * time.Millisecond
)

// EngineConfig bounds the engine's external calls and conflict retries.
type EngineConfig struct {
	OperationTimeout time.Duration
	AppendRetries    uint64
}

// Engine orchestrates transformation, map matching, and atomic path appends
// for driving sessions. Operations for one driver are serialized; different
// drivers never block each other. The engine performs no logging; every
// failure leaves the session in its pre-call state.
type Engine struct {
	transformer *geo.Transformer
	matcher     matching.Matcher
	store       Store
	hub         *stream.Hub

	opTimeout     time.Duration
	appendRetries uint64

	mu    sync.Mutex
	locks map[string]*driverLock
}

// driverLock serializes one driver's operations. refs counts holders and
// waiters so the map entry can be evicted once the last one releases.
type driverLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(transformer *geo.Transformer, matcher matching.Matcher, store Store, hub *stream.Hub, cfg EngineConfig) *Engine {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.AppendRetries == 0 {
		cfg.AppendRetries = defaultAppendRetries
	}
	return &Engine{
		transformer:   transformer,
		matcher:       matcher,
		store:         store,
		hub:           hub,
		opTimeout:     cfg.OperationTimeout,
		appendRetries: cfg.AppendRetries,
		locks:         map[string]*driverLock{},
	}
}

// Start creates a new active session for the driver. The store's uniqueness
// constraint plus the per-driver lock guarantee that of two concurrent starts
// exactly one succeeds. When a first fix is supplied it is processed exactly
// like Update; the session is already durable if that fix is rejected.
func (e *Engine) Start(ctx context.Context, driverID string, firstFix *geo.Fix) (*Session, error) {
	lock := e.lockDriver(driverID)
	defer e.unlockDriver(driverID, lock)

	opCtx, cancel := e.bound(ctx)
	sess, err := e.store.Create(opCtx, driverID)
	cancel()
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()

	if firstFix != nil {
		if err := e.appendFix(ctx, sess, *firstFix, false); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// Get returns the driver's active session, or nil when none exists. Absence
// is a normal outcome, not an error.
func (e *Engine) Get(ctx context.Context, driverID string) (*Session, error) {
	opCtx, cancel := e.bound(ctx)
	defer cancel()
	return e.store.FindActive(opCtx, driverID)
}

// Update appends one fix to the session's path: transform, map-match, then
// a conditional durable append. The caller's in-memory path view becomes
// stale on success and must be refreshed via Get.
func (e *Engine) Update(ctx context.Context, sess *Session, fix geo.Fix) error {
	lock := e.lockDriver(sess.DriverID)
	defer e.unlockDriver(sess.DriverID, lock)

	if !sess.Active {
		return ErrSessionNotActive
	}
	return e.appendFix(ctx, sess, fix, false)
}

// Stop terminates the session. A final fix, when supplied, is appended and
// the active flag flipped in one atomic store update; afterwards the session
// is immutable.
func (e *Engine) Stop(ctx context.Context, sess *Session, finalFix *geo.Fix) error {
	lock := e.lockDriver(sess.DriverID)
	defer e.unlockDriver(sess.DriverID, lock)

	if !sess.Active {
		return ErrSessionNotActive
	}

	var err error
	if finalFix != nil {
		err = e.appendFix(ctx, sess, *finalFix, true)
	} else {
		err = e.retryConditional(ctx, sess, func(opCtx context.Context, version int64) error {
			return e.store.Deactivate(opCtx, sess.ID, version)
		})
	}
	if err != nil {
		return err
	}
	sess.Active = false
	metrics.SessionsStopped.Inc()
	return nil
}

func (e *Engine) appendFix(ctx context.Context, sess *Session, fix geo.Fix, deactivate bool) error {
	planar, err := e.transformer.Transform(fix.Latitude, fix.Longitude)
	if err != nil {
		return err
	}

	opCtx, cancel := e.bound(ctx)
	matched, err := e.matcher.Match(opCtx, planar)
	cancel()
	if err != nil {
		if errors.Is(err, matching.ErrNoMatch) {
			metrics.MatchFailures.Inc()
		}
		return err
	}

	err = e.retryConditional(ctx, sess, func(opCtx context.Context, version int64) error {
		return e.store.AppendPoint(opCtx, sess.ID, matched, deactivate, version)
	})
	if err != nil {
		return err
	}
	metrics.PointsAppended.Inc()
	e.broadcast(sess, matched)
	return nil
}

// retryConditional runs one conditional store update, re-reading the session
// version and retrying with backoff when a concurrent writer won the race.
// Any other failure is final.
func (e *Engine) retryConditional(ctx context.Context, sess *Session, update func(ctx context.Context, version int64) error) error {
	version := sess.Version

	op := func() error {
		opCtx, cancel := e.bound(ctx)
		defer cancel()

		err := update(opCtx, version)
		if err == nil {
			sess.Version = version + 1
			return nil
		}
		if !errors.Is(err, ErrStaleSession) {
			return backoff.Permanent(err)
		}

		metrics.AppendConflicts.Inc()
		current, ferr := e.store.FindActive(opCtx, sess.DriverID)
		if ferr != nil {
			return backoff.Permanent(ferr)
		}
		if current == nil || current.ID != sess.ID {
			return backoff.Permanent(ErrSessionNotActive)
		}
		version = current.Version
		return err
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(retryInitialInterval),
				backoff.WithMaxInterval(retryMaxInterval),
			),
			e.appendRetries,
		),
		ctx,
	)
	return backoff.Retry(op, strategy)
}

func (e *Engine) broadcast(sess *Session, p geo.Point) {
	if e.hub == nil {
		return
	}
	lat, lon, err := e.transformer.Inverse(p)
	if err != nil {
		return
	}
	payload, _ := json.Marshal(pointEvent{
		SessionID: sess.ID,
		DriverID:  sess.DriverID,
		Latitude:  lat,
		Longitude: lon,
		X:         p.X,
		Y:         p.Y,
	})
	e.hub.Broadcast(sess.DriverID, payload)
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opTimeout)
}

func (e *Engine) lockDriver(driverID string) *driverLock {
	e.mu.Lock()
	lock, ok := e.locks[driverID]
	if !ok {
		lock = &driverLock{}
		e.locks[driverID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (e *Engine) unlockDriver(driverID string, lock *driverLock) {
	lock.mu.Unlock()

	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.locks, driverID)
	}
	e.mu.Unlock()
}
