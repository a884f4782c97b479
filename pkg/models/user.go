package models

// User is a backend account a collector instance authenticates as.
// Every connection is attributed to exactly one user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	// PasswordHash is a bcrypt hash, never serialized.
	PasswordHash string `json:"-"`
}
