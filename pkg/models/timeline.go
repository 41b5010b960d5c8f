// Package models holds the data types shared by the timeline, the orchestrator
// and the persistence layer.
package models

import "time"

// Origin identifies who produced a timeline entry.
type Origin string

// Origin values.
const (
	OriginUser   Origin = "user"
	OriginAgent  Origin = "agent"
	OriginSystem Origin = "system"
)

// IsValid reports whether o is a known origin.
func (o Origin) IsValid() bool {
	switch o {
	case OriginUser, OriginAgent, OriginSystem:
		return true
	default:
		return false
	}
}

// ContentKind tells observers how to render an entry's content.
type ContentKind string

// ContentKind values.
const (
	KindText   ContentKind = "text"
	KindCode   ContentKind = "code"
	KindStatus ContentKind = "status"
)

// IsValid reports whether k is a known content kind.
func (k ContentKind) IsValid() bool {
	switch k {
	case KindText, KindCode, KindStatus:
		return true
	default:
		return false
	}
}

// Entry is one immutable item in a timeline. Sequence is the authoritative
// position; CreatedAt may coincide between entries.
type Entry struct {
	ID        string      `json:"id"`
	Sequence  uint64      `json:"sequence"`
	Origin    Origin      `json:"origin"`
	Content   string      `json:"content"`
	Kind      ContentKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	RunID     string      `json:"run_id,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
}

// CreateTimelineEntryRequest contains fields for persisting a timeline entry.
type CreateTimelineEntryRequest struct {
	SessionID string `json:"session_id"`
	Entry     Entry  `json:"entry"`
}
