package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
)

// ErrSweepInProgress is returned by Sweep when another sweep holds the lease.
var ErrSweepInProgress = errors.New("lifecycle: sweep already in progress")

// Store is the write surface a sweep needs. The core client implements it;
// every method takes the same per-memory locks as ordinary writes.
type Store interface {
	ListForLifecycle(ctx context.Context, stages []model.Stage, limit, offset int) ([]*model.Memory, error)
	Neighbors(ctx context.Context, memory *model.Memory, k int) ([]index.Hit, error)
	Transition(ctx context.Context, id int64, to model.Stage, eligible func(*model.Memory) bool) (bool, error)
	Merge(ctx context.Context, keeperID int64, absorbedIDs []int64) (*model.Memory, error)
	Purge(ctx context.Context, id int64, eligible func(*model.Memory) bool) (bool, error)
	Repair(ctx context.Context) (int, error)
}

// Report summarises one sweep.
type Report struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Repaired     int           `json:"repaired"`
	Aged         int           `json:"aged"`
	Archived     int           `json:"archived"`
	Consolidated int           `json:"consolidated"`
	Purged       int           `json:"purged"`
	Errors       int           `json:"errors"`
}

// Manager runs lifecycle sweeps.
type Manager struct {
	store  Store
	policy Policy
	locker Locker
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker sets the sweep lease (default: a LocalLocker).
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a lifecycle manager over store.
func NewManager(store Store, policy Policy, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		policy: policy.withDefaults(),
		locker: NewLocalLocker(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the policy in effect.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Sweep runs one pass: repair queued inconsistencies, advance stages,
// consolidate near-duplicates, then purge expired archives. It returns
// ErrSweepInProgress without doing anything when the lease is held
// elsewhere. A lease that expires is renewed while the sweep runs; if a
// renewal fails the sweep stops and returns ErrLeaseLost. Failures on
// single memories are logged and counted; only lease, listing and context
// errors abort the sweep.
func (m *Manager) Sweep(ctx context.Context) (*Report, error) {
	ok, err := m.locker.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSweepInProgress
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.locker.Unlock(unlockCtx); err != nil {
			m.logger.Warn("failed to release sweep lease", "error", err)
		}
	}()

	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	if r, ok := m.locker.(Renewer); ok {
		stop := m.keepAlive(ctx, r, abort)
		defer stop()
	}

	now := m.clock().UTC()
	report := &Report{StartedAt: now}

	repaired, err := m.store.Repair(ctx)
	report.Repaired = repaired
	if err != nil {
		m.logger.Warn("repair incomplete", "error", err)
		report.Errors++
	}

	steps := []func(context.Context, time.Time, *Report) error{
		m.age,
		m.archive,
		func(ctx context.Context, _ time.Time, r *Report) error { return m.consolidate(ctx, r) },
		m.purge,
	}
	for _, step := range steps {
		if err := step(ctx, now, report); err != nil {
			report.Duration = m.clock().Sub(now)
			if cause := context.Cause(ctx); errors.Is(cause, ErrLeaseLost) {
				return report, cause
			}
			return report, err
		}
	}

	report.Duration = m.clock().Sub(now)
	m.logger.Info("lifecycle sweep finished",
		"repaired", report.Repaired,
		"aged", report.Aged,
		"archived", report.Archived,
		"consolidated", report.Consolidated,
		"purged", report.Purged,
		"errors", report.Errors,
		"duration", report.Duration)
	return report, nil
}

// keepAlive renews the lease until the returned stop function is called.
// A failed renewal aborts the sweep through abort.
func (m *Manager) keepAlive(ctx context.Context, r Renewer, abort context.CancelCauseFunc) func() {
	interval := r.RenewInterval()
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.Renew(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("sweep lease renewal failed, aborting sweep", "error", err)
				if !errors.Is(err, ErrLeaseLost) {
					err = fmt.Errorf("%w: %v", ErrLeaseLost, err)
				}
				abort(err)
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (m *Manager) age(ctx context.Context, now time.Time, report *Report) error {
	n, err := m.advance(ctx, model.StageActive, model.StageAging, func(mem *model.Memory) bool {
		return m.policy.ShouldAge(mem, now)
	}, report)
	report.Aged += n
	return err
}

func (m *Manager) archive(ctx context.Context, now time.Time, report *Report) error {
	n, err := m.advance(ctx, model.StageAging, model.StageArchived, func(mem *model.Memory) bool {
		return m.policy.ShouldArchive(mem, now)
	}, report)
	report.Archived += n
	return err
}

// advance moves every eligible memory in stage from to stage to. The
// predicate is checked again under the memory's lock, so a concurrent
// update that refreshes a memory keeps it where it is.
func (m *Manager) advance(ctx context.Context, from, to model.Stage, eligible func(*model.Memory) bool, report *Report) (int, error) {
	memories, err := m.listAll(ctx, from)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, mem := range memories {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if !eligible(mem) {
			continue
		}
		ok, err := m.store.Transition(ctx, mem.ID, to, eligible)
		if err != nil {
			m.logger.Warn("stage transition failed", "id", mem.ID, "to", to, "error", err)
			report.Errors++
			continue
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

func (m *Manager) purge(ctx context.Context, now time.Time, report *Report) error {
	memories, err := m.listAll(ctx, model.StageArchived)
	if err != nil {
		return err
	}

	eligible := func(mem *model.Memory) bool { return m.policy.ShouldPurge(mem, now) }
	for _, mem := range memories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !eligible(mem) {
			continue
		}
		ok, err := m.store.Purge(ctx, mem.ID, eligible)
		if err != nil {
			m.logger.Warn("purge failed", "id", mem.ID, "error", err)
			report.Errors++
			continue
		}
		if ok {
			report.Purged++
		}
	}
	return nil
}

// listAll pages through every memory in stages before any is modified, so
// stage changes made by the sweep cannot shift the pages.
func (m *Manager) listAll(ctx context.Context, stages ...model.Stage) ([]*model.Memory, error) {
	const pageSize = 500

	seen := make(map[int64]struct{})
	var out []*model.Memory
	for offset := 0; ; offset += pageSize {
		page, err := m.store.ListForLifecycle(ctx, stages, pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, mem := range page {
			if _, dup := seen[mem.ID]; dup {
				continue
			}
			seen[mem.ID] = struct{}{}
			out = append(out, mem)
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// Run sweeps every interval until ctx is done. A sweep skipped because
// another holds the lease is not an error.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					m.logger.Debug("sweep skipped, lease held elsewhere")
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Error("lifecycle sweep failed", "error", err)
			}
		}
	}
}
