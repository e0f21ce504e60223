package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangesetStatus represents the changeset state machine:
// open -> committed | discarded, both terminal.
type ChangesetStatus string

const (
	ChangesetStatusOpen      ChangesetStatus = "open"
	ChangesetStatusCommitted ChangesetStatus = "committed"
	ChangesetStatusDiscarded ChangesetStatus = "discarded"
)

// Changeset is a principal-owned batch of staged configuration edits. A
// principal holds at most one open changeset at a time.
type Changeset struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	Status          ChangesetStatus `json:"status"`
	NumberOfChanges int             `json:"number_of_changes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewChangeset opens a changeset for the given principal.
func NewChangeset(ownerID uuid.UUID) Changeset {
	now := time.Now()
	return Changeset{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    ChangesetStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Open reports whether the changeset still accepts staged edits.
func (c Changeset) Open() bool {
	return c.Status == ChangesetStatusOpen
}

// WithChangeStaged returns a copy with the staged-change counter advanced.
func (c Changeset) WithChangeStaged() Changeset {
	c.NumberOfChanges++
	c.UpdatedAt = time.Now()
	return c
}

// WithStatus returns a copy in the given terminal state.
func (c Changeset) WithStatus(status ChangesetStatus) Changeset {
	c.Status = status
	c.UpdatedAt = time.Now()
	return c
}
