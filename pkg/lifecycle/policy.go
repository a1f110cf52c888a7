// Package lifecycle ages, archives, consolidates and purges memories.
//
// A Manager runs sweeps against a Store, normally the core client. Stages
// only move forward during a sweep:
//
//	active -> aging -> archived -> deleted (purged)
//
// Each sweep also merges near-duplicate memories within a scope. Only one
// sweep runs at a time across every process that shares a Locker.
package lifecycle

import (
	"time"

	"github.com/oceanbase/memstore/pkg/model"
)

const day = 24 * time.Hour

// Policy decides when a memory changes stage.
type Policy struct {
	// SoftAgeDays is the age after which an unimportant active memory
	// starts aging.
	SoftAgeDays float64

	// SoftThreshold is the importance below which an old active memory
	// starts aging.
	SoftThreshold float64

	// HardAgeDays is the age after which an aging memory is archived.
	HardAgeDays float64

	// RetentionDays is how long an archived memory is kept before it is
	// purged.
	RetentionDays float64

	// ConsolidationThreshold is the similarity at or above which two
	// memories in one scope are merged.
	ConsolidationThreshold float64

	// BatchSize caps the memories considered for consolidation per scope
	// in one sweep.
	BatchSize int
}

// DefaultPolicy returns the default policy: 30 days soft age below 0.3
// importance, 90 days hard age, 30 days retention and 0.85 consolidation.
func DefaultPolicy() Policy {
	return Policy{
		SoftAgeDays:            30,
		SoftThreshold:          0.3,
		HardAgeDays:            90,
		RetentionDays:          30,
		ConsolidationThreshold: 0.85,
		BatchSize:              100,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ConsolidationThreshold <= 0 {
		p.ConsolidationThreshold = d.ConsolidationThreshold
	}
	if p.BatchSize <= 0 {
		p.BatchSize = d.BatchSize
	}
	return p
}

// age is measured from the last content or metadata write.
func age(m *model.Memory, now time.Time) time.Duration {
	return now.Sub(m.UpdatedAt)
}

func days(d float64) time.Duration {
	return time.Duration(d * float64(day))
}

// ShouldAge reports whether an active memory is old and unimportant enough
// to start aging.
func (p Policy) ShouldAge(m *model.Memory, now time.Time) bool {
	return m.Stage == model.StageActive &&
		age(m, now) > days(p.SoftAgeDays) &&
		m.Importance < p.SoftThreshold
}

// ShouldArchive reports whether an aging memory has passed the hard age.
func (p Policy) ShouldArchive(m *model.Memory, now time.Time) bool {
	return m.Stage == model.StageAging && age(m, now) > days(p.HardAgeDays)
}

// ShouldPurge reports whether an archived memory has outlived retention.
// Retention counts from the moment the memory was archived.
func (p Policy) ShouldPurge(m *model.Memory, now time.Time) bool {
	return m.Stage == model.StageArchived && now.Sub(m.StageChangedAt) > days(p.RetentionDays)
}
