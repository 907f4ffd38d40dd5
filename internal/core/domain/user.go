package domain

import "time"

// Role selects which portal a user is routed to.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is one of the known portal roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Name is a person's display name.
type Name struct {
	First string `json:"first" bson:"first" validate:"required"`
	Last  string `json:"last" bson:"last"`
}

// UserRecord is the normalized profile returned by the auth service. A record
// is an immutable snapshot: the session manager replaces it wholesale and
// never patches individual fields.
type UserRecord struct {
	ID            string         `json:"id" bson:"id"`
	Email         string         `json:"email" bson:"email"`
	Role          Role           `json:"role" bson:"role"`
	Name          Name           `json:"name" bson:"name"`
	ProfileFields map[string]any `json:"profileFields,omitempty" bson:"profile_fields,omitempty"`
}

// Clone returns a deep copy of u so that callers can never alias the
// session's record.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	clone := *u
	if u.ProfileFields != nil {
		clone.ProfileFields = cloneMap(u.ProfileFields)
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Account is the sandbox backend's stored form of a user, including the
// password hash that never leaves the server.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          Role
	Name          Name
	ProfileFields map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Record projects the account onto the wire-level UserRecord.
func (a *Account) Record() *UserRecord {
	rec := &UserRecord{
		ID:    a.ID,
		Email: a.Email,
		Role:  a.Role,
		Name:  a.Name,
	}
	if len(a.ProfileFields) > 0 {
		rec.ProfileFields = cloneMap(a.ProfileFields)
	}
	return rec
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.ProfileFields != nil {
		clone.ProfileFields = cloneMap(a.ProfileFields)
	}
	return &clone
}
