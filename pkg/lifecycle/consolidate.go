package lifecycle

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"github.com/oceanbase/memstore/pkg/model"
)

// neighborCount is how many nearest memories are examined per keeper.
const neighborCount = 10

// consolidate merges near-duplicates within each scope. Memories are
// visited by importance, highest first, so the one kept is always the more
// important of a pair.
func (m *Manager) consolidate(ctx context.Context, report *Report) error {
	memories, err := m.listAll(ctx, model.StageActive, model.StageAging)
	if err != nil {
		return err
	}

	byScope := lo.GroupBy(memories, func(mem *model.Memory) string { return mem.Scope.Key() })
	scopes := lo.Keys(byScope)
	sort.Strings(scopes)

	for _, key := range scopes {
		group := byScope[key]
		members := lo.SliceToMap(group, func(mem *model.Memory) (int64, struct{}) { return mem.ID, struct{}{} })
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Importance != group[j].Importance {
				return group[i].Importance > group[j].Importance
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		if len(group) > m.policy.BatchSize {
			group = group[:m.policy.BatchSize]
		}

		if err := m.consolidateScope(ctx, group, members, report); err != nil {
			return err
		}
	}
	return nil
}

// consolidateScope merges neighbours of each keeper in group. Only members,
// the scope's active and aging memories, can be absorbed; archived vectors
// that are still indexed are ignored.
func (m *Manager) consolidateScope(ctx context.Context, group []*model.Memory, members map[int64]struct{}, report *Report) error {
	visited := make(map[int64]struct{}, len(group))
	absorbed := make(map[int64]struct{})

	for _, keeper := range group {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, gone := absorbed[keeper.ID]; gone {
			continue
		}
		visited[keeper.ID] = struct{}{}

		hits, err := m.store.Neighbors(ctx, keeper, neighborCount)
		if err != nil {
			m.logger.Warn("neighbour lookup failed", "id", keeper.ID, "error", err)
			report.Errors++
			continue
		}

		var victims []int64
		for _, h := range hits {
			if h.Score < m.policy.ConsolidationThreshold {
				continue
			}
			if _, ok := members[h.ID]; !ok {
				continue
			}
			if _, seen := visited[h.ID]; seen {
				continue
			}
			if _, gone := absorbed[h.ID]; gone {
				continue
			}
			victims = append(victims, h.ID)
		}
		if len(victims) == 0 {
			continue
		}

		if _, err := m.store.Merge(ctx, keeper.ID, victims); err != nil {
			m.logger.Warn("consolidation failed", "keeper", keeper.ID, "error", err)
			report.Errors++
			continue
		}
		for _, id := range victims {
			absorbed[id] = struct{}{}
		}
		report.Consolidated += len(victims)
	}
	return nil
}
