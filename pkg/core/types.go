package core

import "github.com/oceanbase/memstore/pkg/model"

// Memory represents a single memory stored in the system.
type Memory = model.Memory

// Scope is the partition a memory belongs to.
type Scope = model.Scope

// Stage is a lifecycle stage.
type Stage = model.Stage

// MemoryType is the closed set of memory type tags.
type MemoryType = model.Type

// Metadata is the extension bag of a memory.
type Metadata = model.Metadata

// Scope constructors, re-exported for callers of the client.
var (
	GlobalScope  = model.GlobalScope
	UserScope    = model.UserScope
	SessionScope = model.SessionScope
	AgentScope   = model.AgentScope
)
