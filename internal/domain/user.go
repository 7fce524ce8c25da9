package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the profile slice the messaging core needs: enough to resolve
// @mention handles. Accounts themselves live in the identity service.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}
