package authkit

import (
	"context"
	"errors"
	"time"
)

// ProviderGoogle identifies Google in Account rows.
const ProviderGoogle = "google"

var (
	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("credential_store.user_not_found")
	// ErrAccountNotFound indicates no provider link matched the lookup.
	ErrAccountNotFound = errors.New("credential_store.account_not_found")
	// ErrEmailTaken indicates the email unique constraint rejected a write.
	ErrEmailTaken = errors.New("credential_store.email_taken")
	// ErrAccountTaken indicates the (provider, provider user id) constraint rejected a write.
	ErrAccountTaken = errors.New("credential_store.account_taken")
)

// User is an application identity. HashedPassword is empty for OAuth-only users.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Image          string    `json:"image,omitempty"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// HasPassword reports whether the user can log in with a password.
func (user User) HasPassword() bool {
	return user.HashedPassword != ""
}

// Account links a user to an external identity provider.
type Account struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ProviderID     string    `json:"providerId"`
	ProviderUserID string    `json:"providerUserId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewUser carries the fields supplied when creating a user.
type NewUser struct {
	Email          string
	Name           string
	Image          string
	HashedPassword string
}

// CredentialStore persists users and their provider links.
type CredentialStore interface {
	FindUserByID(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByAccount(ctx context.Context, providerID string, providerUserID string) (User, error)
	FindAccount(ctx context.Context, userID string, providerID string) (Account, error)
	// CreateUser returns ErrEmailTaken when the email already exists.
	CreateUser(ctx context.Context, newUser NewUser) (User, error)
	// CreateUserWithAccount creates the user and its first provider link atomically.
	CreateUserWithAccount(ctx context.Context, newUser NewUser, providerID string, providerUserID string) (User, error)
	// LinkAccount returns ErrAccountTaken when the provider identity is already linked.
	LinkAccount(ctx context.Context, userID string, providerID string, providerUserID string) (Account, error)
}
