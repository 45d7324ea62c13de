package sequence

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAllocator(store Store, clk *testclock.Clock) *Allocator {
	return NewAllocator(store,
		WithClock(clk),
		WithLocation(time.UTC),
		WithLogger(quietLogger()),
	)
}

var day = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func TestSequentialSameDay(t *testing.T) {
	store := NewMemoryStore()
	a := newTestAllocator(store, testclock.NewClock(day))
	ctx := context.Background()

	const n = 50
	for i := int64(1); i <= n; i++ {
		num, err := a.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, i, num)
	}

	record, ok := store.Record()
	require.True(t, ok)
	assert.Equal(t, "50,2026-10-19", record)

	stats := a.Stats()
	assert.Equal(t, int64(n), stats.Issued)
	assert.Equal(t, int64(0), stats.Rollovers)
	assert.Equal(t, int64(n), stats.LastNumber)
}

func TestRolloverRestartsAtOne(t *testing.T) {
	store := NewMemoryStore()
	store.Set("57,2026-10-19")
	clk := testclock.NewClock(day)
	a := newTestAllocator(store, clk)
	ctx := context.Background()

	num, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(58), num)

	clk.Advance(24 * time.Hour)

	num, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), num)

	record, _ := store.Record()
	assert.Equal(t, "1,2026-10-20", record)
	assert.Equal(t, int64(1), a.Stats().Rollovers)

	num, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), num)
}

func TestRolloverJustAfterMidnight(t *testing.T) {
	store := NewMemoryStore()
	clk := testclock.NewClock(time.Date(2026, 10, 19, 23, 59, 59, 0, time.UTC))
	a := newTestAllocator(store, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Next(ctx)
		require.NoError(t, err)
	}

	clk.Advance(2 * time.Second)
	num, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), num)
}

func TestOlderDateAlsoResets(t *testing.T) {
	store := NewMemoryStore()
	store.Set("9,2030-01-01")
	a := newTestAllocator(store, testclock.NewClock(day))

	num, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), num)
}

func TestLocationDecidesDay(t *testing.T) {
	// 2026-10-19 23:30 UTC is already 2026-10-20 in Tokyo
	loc := time.FixedZone("JST", 9*3600)
	store := NewMemoryStore()
	store.Set("4,2026-10-19")
	a := NewAllocator(store,
		WithClock(testclock.NewClock(time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC))),
		WithLocation(loc),
		WithLogger(quietLogger()),
	)

	num, err := a.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), num)

	record, _ := store.Record()
	assert.Equal(t, "1,2026-10-20", record)
}

func TestCorruptRecordRecovers(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"no comma", "12"},
		{"too many fields", "1,2026-10-19,extra"},
		{"non numeric", "abc,2026-10-19"},
		{"zero", "0,2026-10-19"},
		{"negative", "-3,2026-10-19"},
		{"bad date", "5,yesterday"},
		{"binary", "\x00\xff\xfe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.Set(tt.record)
			a := newTestAllocator(store, testclock.NewClock(day))
			ctx := context.Background()

			num, err := a.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), num)

			record, _ := store.Record()
			assert.Equal(t, "1,2026-10-19", record)
			assert.Equal(t, int64(1), a.Stats().Recoveries)

			num, err = a.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), num)
		})
	}
}

func TestSaveFailureIssuesNothing(t *testing.T) {
	store := NewMemoryStore()
	store.Set("7,2026-10-19")
	a := newTestAllocator(store, testclock.NewClock(day))
	ctx := context.Background()

	store.FailSaves(errors.New("disk full"))
	num, err := a.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, int64(0), num)

	record, _ := store.Record()
	assert.Equal(t, "7,2026-10-19", record)
	assert.Equal(t, int64(0), a.Stats().Issued)

	// 存储恢复后继续，不跳号
	store.FailSaves(nil)
	num, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), num)
}

func TestNumberRangeExhausted(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		want    int64
		wantErr bool
	}{
		{"one below max", "9223372036854775806,2026-10-19", math.MaxInt64, false},
		{"max today", "9223372036854775807,2026-10-19", 0, true},
		{"max yesterday", "9223372036854775807,2026-10-18", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.Set(tt.record)
			a := newTestAllocator(store, testclock.NewClock(day))

			num, err := a.Next(context.Background())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.want, num)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNumberExhausted))
			assert.True(t, errors.Is(err, ErrStorage))
			assert.Equal(t, int64(0), num)
			assert.Equal(t, 0, store.Saves())

			// 记录保持不变，后续调用不会从 1 重新发号
			record, _ := store.Record()
			assert.Equal(t, tt.record, record)
			_, err = a.Next(context.Background())
			assert.True(t, errors.Is(err, ErrNumberExhausted))
		})
	}
}

func TestRecoveryCountedOnlyAfterSave(t *testing.T) {
	store := NewMemoryStore()
	store.Set("garbage")
	a := newTestAllocator(store, testclock.NewClock(day))
	ctx := context.Background()

	store.FailSaves(errors.New("disk full"))
	_, err := a.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(0), a.Stats().Recoveries)

	store.FailSaves(nil)
	num, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), num)
	assert.Equal(t, int64(1), a.Stats().Recoveries)
}

// plainStore returns errors that do not wrap ErrStorage.
type plainStore struct {
	loadErr error
	saveErr error
}

func (s *plainStore) Load(ctx context.Context) (string, error) {
	if s.loadErr != nil {
		return "", s.loadErr
	}
	return "", ErrNoRecord
}

func (s *plainStore) Save(ctx context.Context, record string) error { return s.saveErr }

func (s *plainStore) Close() error { return nil }

func TestStoreErrorsWrappedAsStorage(t *testing.T) {
	ioErr := errors.New("i/o timeout")

	tests := []struct {
		name  string
		store *plainStore
	}{
		{"load", &plainStore{loadErr: ioErr}},
		{"save", &plainStore{saveErr: ioErr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(tt.store, testclock.NewClock(day))
			num, err := a.Next(context.Background())
			require.Error(t, err)
			assert.Equal(t, int64(0), num)
			assert.True(t, errors.Is(err, ErrStorage))
			assert.True(t, errors.Is(err, ioErr))
		})
	}
}

func TestLoadFailurePropagates(t *testing.T) {
	store := NewMemoryStore()
	store.Set("7,2026-10-19")
	store.FailLoads(errors.New("permission denied"))
	a := newTestAllocator(store, testclock.NewClock(day))

	_, err := a.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, 0, store.Saves())
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), DefaultRecordFile))
	require.NoError(t, err)
	a := newTestAllocator(store, testclock.NewClock(day))

	const goroutines = 16
	const perGoroutine = 25
	const total = goroutines * perGoroutine

	var wg sync.WaitGroup
	results := make(chan int64, total)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				num, err := a.Next(context.Background())
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				results <- num
			}
		}()
	}

	wg.Wait()
	close(results)

	var got []int64
	for num := range results {
		got = append(got, num)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	require.Len(t, got, total)
	for i, num := range got {
		require.Equal(t, int64(i+1), num, "gap or duplicate at position %d", i)
	}

	raw, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "400,2026-10-19", raw)
}

func TestFreshAllocatorResumesFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultRecordFile)
	ctx := context.Background()
	clk := testclock.NewClock(day)

	store, err := NewFileStore(path)
	require.NoError(t, err)
	a := newTestAllocator(store, clk)
	for i := 0; i < 3; i++ {
		_, err := a.Next(ctx)
		require.NoError(t, err)
	}

	// 模拟进程重启
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	b := newTestAllocator(reopened, clk)

	num, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), num)
}

func TestProcessLockSharedStore(t *testing.T) {
	// 两个独立的 Allocator 模拟两个进程，共享同一个记录文件
	path := filepath.Join(t.TempDir(), DefaultRecordFile)
	clk := testclock.NewClock(day)
	lockName := "orderdesk-test-shared"

	var allocators []*Allocator
	for i := 0; i < 2; i++ {
		store, err := NewFileStore(path)
		require.NoError(t, err)
		allocators = append(allocators, NewAllocator(store,
			WithClock(clk),
			WithLocation(time.UTC),
			WithLogger(quietLogger()),
			WithProcessLock(lockName, 10*time.Second),
		))
	}

	const perAllocator = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)

	for _, a := range allocators {
		wg.Add(1)
		go func(a *Allocator) {
			defer wg.Done()
			for i := 0; i < perAllocator; i++ {
				num, err := a.Next(context.Background())
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				mu.Lock()
				if seen[num] {
					t.Errorf("duplicate number %d", num)
				}
				seen[num] = true
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	assert.Len(t, seen, 2*perAllocator)
	for i := int64(1); i <= 2*perAllocator; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestProcessLockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	lockName := "orderdesk-test-cancelled"
	holder := NewAllocator(store, WithLogger(quietLogger()), WithProcessLock(lockName, time.Second))
	release, err := holder.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	a := newTestAllocator(store, testclock.NewClock(day))
	a.lockName = lockName
	_, err = a.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, 0, store.Saves())
}
