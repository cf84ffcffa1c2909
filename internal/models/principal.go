package models

import (
	"time"
)

// Roles, lowest privilege first.
const (
	RoleVisitor    = "VISITOR"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// ValidRoles lists every assignable role.
var ValidRoles = []string{RoleVisitor, RoleAdmin, RoleSuperAdmin}

// IsValidRole checks a role name against ValidRoles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Principal is an authenticatable account.
type Principal struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialMethod tags how a Credential is checked.
type CredentialMethod string

const (
	MethodPlaintext CredentialMethod = "PLAINTEXT"
	MethodHashed    CredentialMethod = "HASHED"
	MethodDelegated CredentialMethod = "DELEGATED"
)

// Valid reports whether m is one of the known methods.
func (m CredentialMethod) Valid() bool {
	switch m {
	case MethodPlaintext, MethodHashed, MethodDelegated:
		return true
	}
	return false
}

// Credential is a stored secret bound to a principal. A principal may own
// several credentials of the same method.
type Credential struct {
	ID             string
	PrincipalID    string
	Method         CredentialMethod
	SecretMaterial *string // nil for DELEGATED
	CreatedAt      time.Time
}

// OAuthAccount maps an external identity to a local principal.
type OAuthAccount struct {
	ID          string
	PrincipalID string
	Provider    string
	SubjectID   string
	Email       string
	CreatedAt   time.Time
}

// DelegatedIdentity is a verified assertion from an external identity provider.
type DelegatedIdentity struct {
	Provider  string
	SubjectID string
	Email     string
	Name      string
}

// ProviderGoogle is the only delegated provider.
const ProviderGoogle = "google"
