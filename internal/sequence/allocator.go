package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/sirupsen/logrus"
)

// DefaultLockTimeout bounds how long Next waits for the cross-process lock.
const DefaultLockTimeout = 5 * time.Second

// Stats is a snapshot of allocator activity since process start.
type Stats struct {
	Issued     int64  // 成功发出的号码数
	Rollovers  int64  // 跨天重置次数
	Recoveries int64  // 损坏记录自愈次数
	LastNumber int64  // 最近一次发出的号码
	LastDate   string // 最近一次发号的日期
}

// Allocator issues day-scoped order numbers: 1, 2, 3, ... restarting at 1 on
// the first call of each calendar day.
type Allocator struct {
	mu    sync.Mutex
	store Store
	clock clock.Clock
	loc   *time.Location
	log   logrus.FieldLogger

	// 跨进程锁，为空时只使用进程内互斥
	lockName    string
	lockTimeout time.Duration

	statsMu sync.Mutex
	stats   Stats
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(a *Allocator) { a.clock = c }
}

// WithLocation sets the time zone that decides the calendar day.
func WithLocation(loc *time.Location) Option {
	return func(a *Allocator) { a.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Allocator) { a.log = log }
}

// WithProcessLock serialises Next across every process on the host using the
// named machine lock. Names must match ^[a-z]+[a-z0-9.-]*$ and be at most 40
// characters.
func WithProcessLock(name string, timeout time.Duration) Option {
	return func(a *Allocator) {
		a.lockName = name
		a.lockTimeout = timeout
	}
}

// NewAllocator creates an allocator over store.
func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store: store,
		clock: clock.WallClock,
		loc:   time.Local,
		log:   logrus.StandardLogger(),

		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next issues the next order number. The number is only returned once the
// updated record has been saved; on a save failure no number is issued and the
// error wraps ErrStorage.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	release, err := a.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	today := a.clock.Now().In(a.loc).Format(DateLayout)

	state, ok, recovered, err := a.load(ctx)
	if err != nil {
		return 0, storageError("load", err)
	}

	next := int64(1)
	rollover := false
	switch {
	case !ok:
	case state.Date != today:
		rollover = true
	case state.LastNumber == math.MaxInt64:
		a.log.WithField("date", today).Error("Order number range exhausted for today")
		return 0, fmt.Errorf("%w: %w: last number %d on %s", ErrStorage, ErrNumberExhausted, state.LastNumber, today)
	default:
		next = state.LastNumber + 1
	}

	updated := State{LastNumber: next, Date: today}
	if err := a.store.Save(ctx, updated.String()); err != nil {
		a.log.WithError(err).WithField("number", next).Error("Failed to persist order counter")
		return 0, storageError("save", err)
	}

	a.statsMu.Lock()
	if rollover {
		a.stats.Rollovers++
	}
	if recovered {
		a.stats.Recoveries++
	}
	a.stats.Issued++
	a.stats.LastNumber = next
	a.stats.LastDate = today
	a.statsMu.Unlock()

	if rollover {
		a.log.WithFields(logrus.Fields{
			"previous_date": state.Date,
			"previous_last": state.LastNumber,
			"date":          today,
		}).Info("Order counter rolled over to a new day")
	}

	return next, nil
}

// acquire takes the cross-process lock, if configured.
func (a *Allocator) acquire(ctx context.Context) (func(), error) {
	if a.lockName == "" {
		return func() {}, nil
	}

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    a.lockName,
		Clock:   clock.WallClock,
		Delay:   10 * time.Millisecond,
		Timeout: a.lockTimeout,
		Cancel:  ctx.Done(),
	})
	if err != nil {
		a.log.WithError(err).WithField("lock", a.lockName).Error("Failed to acquire order counter lock")
		return nil, fmt.Errorf("%w: acquire lock %s: %w", ErrStorage, a.lockName, err)
	}
	return releaser.Release, nil
}

// load reads the current state. ok is false when there is no usable record;
// recovered reports a malformed record that was logged and treated as absent.
func (a *Allocator) load(ctx context.Context) (state State, ok, recovered bool, err error) {
	raw, err := a.store.Load(ctx)
	if errors.Is(err, ErrNoRecord) {
		return State{}, false, false, nil
	}
	if err != nil {
		a.log.WithError(err).Error("Failed to read order counter")
		return State{}, false, false, err
	}

	state, err = ParseRecord(raw)
	if err != nil {
		// 无法区分“从未初始化”与“初始化后损坏”，统一从 1 重新开始
		a.log.WithError(err).WithField("record", raw).Warn("Order counter record corrupt, resetting")
		return State{}, false, true, nil
	}

	return state, true, false, nil
}

// storageError makes sure err matches ErrStorage.
func storageError(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Stats returns a snapshot of allocator statistics. It does not wait for an
// allocation in progress.
func (a *Allocator) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}
