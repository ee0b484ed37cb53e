package model

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// EmployeeLike reports whether the role takes part in attendance tracking.
// Students never do.
func (r Role) EmployeeLike() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleInstructor:
		return true
	}
	return false
}

// Person is the identity provider's view of a user. This service never
// writes it.
type Person struct {
	ID         string `bson:"_id" json:"id"`
	ExternalID string `bson:"external_id,omitempty" json:"external_id,omitempty"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
	Name       string `bson:"name" json:"name"`
	Role       Role   `bson:"role" json:"role"`
}
