// Package session defines the focus-session aggregate and its state machine
// vocabulary.
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
)

// Status enumerates the focus-session lifecycle states.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether a session in this status can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusActive, StatusPaused, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// FocusSession is one timed work interval. It is created in StatusPlanned,
// mutated only by its owning user through the session service, and becomes
// immutable once it reaches a terminal status.
type FocusSession struct {
	ID             string
	UserID         string
	TaskID         string // optional
	Category       string // optional task category, formula input only
	PlannedMinutes int
	ActualMinutes  int // meaningful only in a terminal status
	Status         Status
	Interruptions  int
	Assembly       *catalog.AssemblySnapshot // frozen at create time; nil when none

	// Reward amounts computed at completion. Zero until StatusCompleted.
	EnergyGenerated   decimal.Decimal
	DopamineGenerated decimal.Decimal

	StartedAt time.Time // zero until started
	EndedAt   time.Time // zero until terminal
	CreatedAt time.Time
	UpdatedAt time.Time
}
