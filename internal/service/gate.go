package service

import (
	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

// AccessLevel orders the privilege an operation demands.
type AccessLevel int

const (
	// LevelAuthenticated admits any signed-in user.
	LevelAuthenticated AccessLevel = iota + 1
	// LevelOwner admits the record owner and admins.
	LevelOwner
	// LevelAdmin admits admins only.
	LevelAdmin
)

// Requirement describes what an operation needs from the caller.
type Requirement struct {
	Level   AccessLevel
	OwnerID string
}

// RequireAuthenticated is the requirement for any signed-in caller.
func RequireAuthenticated() Requirement { return Requirement{Level: LevelAuthenticated} }

// RequireOwner is satisfied by ownerID or an admin.
func RequireOwner(ownerID string) Requirement {
	return Requirement{Level: LevelOwner, OwnerID: ownerID}
}

// RequireAdmin is satisfied by admins only.
func RequireAdmin() Requirement { return Requirement{Level: LevelAdmin} }

// Decision is the outcome of Authorize: either Allowed with the identity or
// Denied with an Unauthorized/Forbidden error.
type Decision struct {
	Identity *models.SessionIdentity
	Err      error
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool { return d.Err == nil }

// Authorize evaluates req against identity. A nil identity is anonymous.
// Admins satisfy every requirement.
func Authorize(identity *models.SessionIdentity, req Requirement) Decision {
	if identity == nil || identity.UserID == "" {
		return Decision{Err: appErrors.Clone(appErrors.ErrUnauthorized, "login required")}
	}
	if identity.IsAdmin {
		return Decision{Identity: identity}
	}
	switch req.Level {
	case LevelAuthenticated:
		return Decision{Identity: identity}
	case LevelOwner:
		if req.OwnerID != "" && req.OwnerID == identity.UserID {
			return Decision{Identity: identity}
		}
		return Decision{Err: appErrors.Clone(appErrors.ErrForbidden, "only the owner or an administrator may do this")}
	case LevelAdmin:
		return Decision{Err: appErrors.Clone(appErrors.ErrForbidden, "administrator privileges required")}
	default:
		return Decision{Err: appErrors.Clone(appErrors.ErrForbidden, "unknown access level")}
	}
}
