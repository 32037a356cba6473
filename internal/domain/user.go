package domain

import (
	"context"
	"time"
)

// User is the public identity owned by the users directory
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// Credential (auth account) holds the password hash for a user, one-to-one
type Credential struct {
	ID           int64  `db:"id"`
	UserID       int64  `db:"user_id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}

// UserRepository defines data access for users and their credentials
type UserRepository interface {
	// CreateWithCredential inserts the user and its credential atomically.
	CreateWithCredential(ctx context.Context, user *User, passwordHash string) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, page Page) ([]*User, int, error)
}
