package model

import (
	"encoding/json"
	"strings"
)

// ScopeKind names the kind of partition a memory lives in.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeUser    ScopeKind = "user"
	ScopeSession ScopeKind = "session"
	ScopeAgent   ScopeKind = "agent"
)

// Scope is the partition key for memories. Global carries no ID; the other
// kinds require one.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// GlobalScope returns the global scope.
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// UserScope returns the scope of a user.
func UserScope(id string) Scope { return Scope{Kind: ScopeUser, ID: id} }

// SessionScope returns the scope of a session.
func SessionScope(id string) Scope { return Scope{Kind: ScopeSession, ID: id} }

// AgentScope returns the scope of an agent.
func AgentScope(id string) Scope { return Scope{Kind: ScopeAgent, ID: id} }

// IsZero reports whether no scope was set.
func (s Scope) IsZero() bool {
	return s.Kind == "" && s.ID == ""
}

// Validate checks the kind and the presence of an ID.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		if s.ID != "" {
			return Validationf("global scope takes no id")
		}
		return nil
	case ScopeUser, ScopeSession, ScopeAgent:
		if strings.TrimSpace(s.ID) == "" {
			return Validationf("%s scope requires an id", s.Kind)
		}
		return nil
	case "":
		return Validationf("scope is required")
	default:
		return Validationf("unknown scope kind %q", s.Kind)
	}
}

// Key renders the scope as a partition key: "global" or "<kind>:<id>".
func (s Scope) Key() string {
	if s.Kind == ScopeGlobal || s.ID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.ID
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}

// ParseScope parses a partition key produced by Key.
func ParseScope(key string) (Scope, error) {
	kind, id, _ := strings.Cut(key, ":")
	s := Scope{Kind: ScopeKind(kind), ID: id}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// UnmarshalJSON accepts both {"kind":"user","id":"A"} and "user:A".
func (s *Scope) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		parsed, err := ParseScope(key)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	type plain Scope
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return Validationf("malformed scope: %v", err)
	}
	*s = Scope(p)
	return nil
}
