package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a human principal.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser creates a user row.
func NewUser(name, email string) User {
	return User{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now(),
	}
}

// Group is a named set of users. Groups cannot contain groups, so grant
// inheritance through membership is a single hop.
type Group struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewGroup creates a group row.
func NewGroup(name, description string) Group {
	return Group{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
}
