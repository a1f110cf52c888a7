package core

import (
	"context"
	"errors"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
)

// reportInconsistency queues id for reconciliation. A full queue drops the
// report; CheckConsistency finds such ids on its next run.
func (c *Client) reportInconsistency(id int64) {
	select {
	case c.repairs <- id:
	default:
		c.logger.Warn("repair queue full, dropping report", "id", id)
	}
}

// PendingRepairs returns the number of queued inconsistency reports.
func (c *Client) PendingRepairs() int {
	return len(c.repairs)
}

// Repair drains the repair queue and reconciles each reported id: a memory
// that has a record gets its vector rewritten, one that has none loses its
// vector. It returns the number of ids reconciled.
func (c *Client) Repair(ctx context.Context) (int, error) {
	seen := make(map[int64]struct{})
drain:
	for {
		select {
		case id := <-c.repairs:
			seen[id] = struct{}{}
		default:
			break drain
		}
	}

	repaired := 0
	var firstErr error
	for id := range seen {
		if err := c.reconcile(ctx, id); err != nil {
			// Put it back for the next sweep.
			c.reportInconsistency(id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		repaired++
	}
	return repaired, NewMemoryError("Repair", firstErr)
}

// reconcile makes the index agree with the record store for one id.
func (c *Client) reconcile(ctx context.Context, id int64) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	record, err := c.records.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return c.index.Remove(ctx, id)
	}
	if err != nil {
		return err
	}

	if len(record.Embedding) == 0 {
		embedding, err := c.embedder.Embed(ctx, record.Content)
		if err != nil {
			return err
		}
		record.Embedding = embedding
		if err := c.records.Update(ctx, record); err != nil {
			return err
		}
	}

	if err := c.index.Insert(ctx, record.ID, record.Scope, record.Embedding); err != nil {
		return err
	}

	c.engine.Invalidate(record.Scope)
	c.logger.Info("reconciled memory with index", "id", id)
	return nil
}

// ConsistencyReport describes how the record store and the index differ.
type ConsistencyReport struct {
	// Records is the number of records examined.
	Records int `json:"records"`

	// MissingVectors are records with no vector in the index.
	MissingVectors []int64 `json:"missing_vectors,omitempty"`

	// OrphanVectors are index entries with no record. Only indexes that can
	// enumerate their ids report these.
	OrphanVectors []int64 `json:"orphan_vectors,omitempty"`

	// Repaired is the number of ids reconciled when repair was requested.
	Repaired int `json:"repaired"`
}

// CheckConsistency compares every record with the index. With repair set,
// each difference is reconciled.
func (c *Client) CheckConsistency(ctx context.Context, repair bool) (*ConsistencyReport, error) {
	ids, err := c.records.IDs(ctx)
	if err != nil {
		return nil, NewMemoryError("CheckConsistency", err)
	}

	report := &ConsistencyReport{Records: len(ids)}
	known := make(map[int64]struct{}, len(ids))

	for _, id := range ids {
		known[id] = struct{}{}
		ok, err := c.index.Contains(ctx, id)
		if err != nil {
			return nil, NewMemoryError("CheckConsistency", err)
		}
		if !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}

	if lister, ok := c.index.(index.Lister); ok {
		vectorIDs, err := lister.IDs(ctx)
		if err != nil {
			return nil, NewMemoryError("CheckConsistency", err)
		}
		for _, id := range vectorIDs {
			if _, ok := known[id]; !ok {
				report.OrphanVectors = append(report.OrphanVectors, id)
			}
		}
	}

	if len(report.MissingVectors) > 0 || len(report.OrphanVectors) > 0 {
		c.logger.Warn("record store and index disagree",
			"missing_vectors", len(report.MissingVectors),
			"orphan_vectors", len(report.OrphanVectors))
	}

	if repair {
		for _, id := range append(append([]int64{}, report.MissingVectors...), report.OrphanVectors...) {
			if err := c.reconcile(ctx, id); err != nil {
				return report, NewMemoryError("CheckConsistency", err)
			}
			report.Repaired++
		}
	}

	return report, nil
}
