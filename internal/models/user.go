package models

// Role is the principal role carried in the access token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleTreasury Role = "treasury"
	RoleOwner    Role = "owner"
	RoleDriver   Role = "driver"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTreasury, RoleOwner, RoleDriver:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
