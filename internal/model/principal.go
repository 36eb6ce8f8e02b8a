package model

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleSupplier  UserRole = "SUPPLIER"
	UserRoleOfficer   UserRole = "OFFICER"
	UserRoleCommittee UserRole = "COMMITTEE"
	UserRoleAuditor   UserRole = "AUDITOR"
	UserRoleAdmin     UserRole = "ADMIN"
)

type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsSupplier() bool {
	return p.Role == UserRoleSupplier
}

func (p Principal) IsOfficer() bool {
	return p.Role == UserRoleOfficer
}

func (p Principal) IsCommittee() bool {
	return p.Role == UserRoleCommittee
}

func (p Principal) IsAuditor() bool {
	return p.Role == UserRoleAuditor
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanRunOpening reports whether the principal may schedule and drive bid openings.
func (p Principal) CanRunOpening() bool {
	return p.IsOfficer() || p.IsAdmin()
}
