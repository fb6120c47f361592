// Package auth validates bearer tokens presented to the WebSocket topic
// manager and admin HTTP surface. Issuance (login/registration) is an
// external collaborator's concern (§1) — this package only verifies a
// token and resolves the caller's role, generalized from the teacher's
// multi-tenant JWT claims down to the single-tenant User/Role model.
package auth

import (
	"github.com/google/uuid"

	"github.com/zerg-labs/zerg-core/internal/db"
)

// UserContext is the authenticated identity attached to a request or
// WebSocket connection after token validation.
type UserContext struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   db.Role   `json:"role"`
}

// IsAdmin reports whether the authenticated caller holds the ADMIN role,
// the single authorization check spec §4.C's ops:events gate and §4.J's
// admin surface both need.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == db.RoleAdmin
}
