package domain

type UserID string

// UserRole is the platform role asserted by the authentication service.
// Stream-level authority comes from Stream.HostID, not from this value.
type UserRole string

const (
	UserRoleInstructor UserRole = "instructor"
	UserRoleStudent    UserRole = "student"
	UserRoleAdmin      UserRole = "admin"
)
