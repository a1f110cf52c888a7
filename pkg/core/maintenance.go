package core

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// The methods in this file are the write paths of the lifecycle manager.
// They take the same per-id locks as Add, Update and Delete, so a sweep
// never interleaves with a caller's write to the same memory.

// ListForLifecycle lists memories in the given stages across every scope.
func (c *Client) ListForLifecycle(ctx context.Context, stages []Stage, limit, offset int) ([]*Memory, error) {
	memories, err := c.records.List(ctx, &storage.ListOptions{
		Stages: stages,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, NewMemoryError("ListForLifecycle", err)
	}
	return memories, nil
}

// Neighbors returns up to k index hits in memory's scope, nearest first,
// excluding memory itself.
func (c *Client) Neighbors(ctx context.Context, memory *Memory, k int) ([]index.Hit, error) {
	hits, err := c.index.Query(ctx, memory.Embedding, k+1, &index.Filter{Scope: &memory.Scope})
	if err != nil {
		return nil, NewMemoryError("Neighbors", err)
	}

	out := hits[:0]
	for _, h := range hits {
		if h.ID != memory.ID {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Transition moves a memory forward to stage to when eligible, evaluated
// against the current record under the memory's lock, still holds. It
// reports whether the memory moved. UpdatedAt is left alone: a stage change
// is not a content or metadata write.
func (c *Client) Transition(ctx context.Context, id int64, to Stage, eligible func(*Memory) bool) (bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	prev, err := c.records.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, NewMemoryError("Transition", err)
	}

	if !model.CanAdvance(prev.Stage, to) || (eligible != nil && !eligible(prev)) {
		return false, nil
	}

	next := prev.Clone()
	now := c.now()
	next.Stage = to
	next.StageChangedAt = now
	if to == model.StageArchived {
		markArchived(next, now)
	}

	if err := c.records.Update(ctx, next); err != nil {
		return false, NewMemoryError("Transition", err)
	}

	c.engine.Invalidate(next.Scope)
	return true, nil
}

// Merge consolidates absorbed memories into keeper.
//
// The keeper gains a cumulative consolidated_from count, the union of all
// source ids in consolidated_ids, any extension keys it lacked and the
// highest importance among the group. Each absorbed memory is archived
// with a consolidated_into back-reference. Memories that are missing, not
// searchable or in another scope are skipped. If a write fails, the writes
// already made are rolled back.
func (c *Client) Merge(ctx context.Context, keeperID int64, absorbedIDs []int64) (*Memory, error) {
	absorbedIDs = lo.Without(lo.Uniq(absorbedIDs), keeperID)
	if len(absorbedIDs) == 0 {
		return nil, NewMemoryError("Merge", model.Validationf("nothing to merge into %d", keeperID))
	}

	unlock := c.locks.LockMany(append([]int64{keeperID}, absorbedIDs...))
	defer unlock()

	keeper, err := c.records.Get(ctx, keeperID)
	if err != nil {
		return nil, NewMemoryError("Merge", err)
	}
	if !keeper.Stage.Searchable() {
		return nil, NewMemoryError("Merge", model.Validationf("keeper %d is %s", keeperID, keeper.Stage))
	}

	found, err := c.records.GetMany(ctx, absorbedIDs)
	if err != nil {
		return nil, NewMemoryError("Merge", err)
	}

	var absorbed []*Memory
	for _, id := range absorbedIDs {
		m, ok := found[id]
		if !ok || !m.Stage.Searchable() || m.Scope != keeper.Scope {
			continue
		}
		absorbed = append(absorbed, m)
	}
	if len(absorbed) == 0 {
		return keeper, nil
	}

	now := c.nextUpdatedAt(keeper)
	nextKeeper := keeper.Clone()
	if nextKeeper.Metadata == nil {
		nextKeeper.Metadata = model.Metadata{}
	}

	count := nextKeeper.Metadata.Int(model.KeyConsolidatedFrom)
	sources := nextKeeper.Metadata.Int64s(model.KeyConsolidatedIDs)

	var writes []*Memory
	for _, m := range absorbed {
		count += 1 + m.Metadata.Int(model.KeyConsolidatedFrom)
		sources = lo.Union(sources, []int64{m.ID}, m.Metadata.Int64s(model.KeyConsolidatedIDs))

		for k, v := range m.Metadata {
			if model.IsReservedKey(k) {
				continue
			}
			if _, ok := nextKeeper.Metadata[k]; !ok {
				nextKeeper.Metadata[k] = v
			}
		}
		if m.Importance > nextKeeper.Importance {
			nextKeeper.Importance = m.Importance
		}

		archived := m.Clone()
		archived.Stage = model.StageArchived
		archived.StageChangedAt = now
		if archived.Metadata == nil {
			archived.Metadata = model.Metadata{}
		}
		archived.Metadata[model.KeyConsolidatedInto] = keeper.ID
		markArchived(archived, now)
		writes = append(writes, archived)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	nextKeeper.Metadata[model.KeyConsolidatedFrom] = count
	nextKeeper.Metadata[model.KeyConsolidatedIDs] = sources
	nextKeeper.UpdatedAt = now
	writes = append(writes, nextKeeper)

	previous := make(map[int64]*Memory, len(absorbed)+1)
	previous[keeper.ID] = keeper
	for _, m := range absorbed {
		previous[m.ID] = m
	}

	for i, w := range writes {
		if err := c.records.Update(ctx, w); err != nil {
			done := writes[:i]
			c.compensate("merge", keeperID, func(ctx context.Context) error {
				for _, d := range done {
					if err := c.records.Update(ctx, previous[d.ID]); err != nil {
						return err
					}
				}
				return nil
			})
			return nil, NewMemoryError("Merge", err)
		}
	}

	c.engine.Invalidate(keeper.Scope)
	c.logger.Info("consolidated memories",
		"keeper", keeper.ID, "absorbed", lo.Map(absorbed, func(m *Memory, _ int) int64 { return m.ID }))
	return nextKeeper.Clone(), nil
}

// Purge physically deletes an archived memory. Memories in other stages
// are left alone and reported as not purged.
func (c *Client) Purge(ctx context.Context, id int64, eligible func(*Memory) bool) (bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	m, err := c.records.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, NewMemoryError("Purge", err)
	}
	if m.Stage != model.StageArchived || (eligible != nil && !eligible(m)) {
		return false, nil
	}

	if err := c.deleteLocked(ctx, id); err != nil {
		return false, NewMemoryError("Purge", err)
	}
	return true, nil
}

func markArchived(m *Memory, now time.Time) {
	if m.Metadata == nil {
		m.Metadata = model.Metadata{}
	}
	m.Metadata[model.KeyArchivedAt] = now.Format(time.RFC3339Nano)
}
