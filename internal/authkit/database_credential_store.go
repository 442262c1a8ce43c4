package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DatabaseCredentialStore persists users and provider links using GORM.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

type userRecord struct {
	ID             string  `gorm:"column:id;primaryKey"`
	Email          string  `gorm:"column:email;uniqueIndex;not null"`
	Name           string  `gorm:"column:name;not null"`
	Image          *string `gorm:"column:image"`
	HashedPassword *string `gorm:"column:hashed_password"`
	CreatedAtUnix  int64   `gorm:"column:created_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

type accountRecord struct {
	ID             string `gorm:"column:id;primaryKey"`
	UserID         string `gorm:"column:user_id;index;not null"`
	ProviderID     string `gorm:"column:provider_id;uniqueIndex:idx_accounts_provider_user;not null"`
	ProviderUserID string `gorm:"column:provider_user_id;uniqueIndex:idx_accounts_provider_user;not null"`
	CreatedAtUnix  int64  `gorm:"column:created_at_unix;not null"`
}

func (accountRecord) TableName() string {
	return "accounts"
}

// NewDatabaseCredentialStore migrates the users and accounts tables.
func NewDatabaseCredentialStore(ctx context.Context, database *Database) (*DatabaseCredentialStore, error) {
	if migrateErr := database.DB.WithContext(ctx).AutoMigrate(&userRecord{}, &accountRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w", database.Driver, migrateErr)
	}
	return &DatabaseCredentialStore{db: database.DB, driverLabel: database.Driver}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

// FindUserByID loads a user by primary key.
func (store *DatabaseCredentialStore) FindUserByID(ctx context.Context, userID string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		return User{}, store.lookupError("find_user_by_id", err, ErrUserNotFound)
	}
	return record.toUser(), nil
}

// FindUserByEmail loads a user by exact email.
func (store *DatabaseCredentialStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
	if err != nil {
		return User{}, store.lookupError("find_user_by_email", err, ErrUserNotFound)
	}
	return record.toUser(), nil
}

// FindUserByAccount loads the user linked to a provider identity.
func (store *DatabaseCredentialStore) FindUserByAccount(ctx context.Context, providerID string, providerUserID string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).
		Model(&userRecord{}).
		Select("users.*").
		Joins("JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider_id = ? AND accounts.provider_user_id = ?", providerID, providerUserID).
		Take(&record).Error
	if err != nil {
		return User{}, store.lookupError("find_user_by_account", err, ErrUserNotFound)
	}
	return record.toUser(), nil
}

// FindAccount loads the user's link for a provider.
func (store *DatabaseCredentialStore) FindAccount(ctx context.Context, userID string, providerID string) (Account, error) {
	var record accountRecord
	err := store.db.WithContext(ctx).Where("user_id = ? AND provider_id = ?", userID, providerID).Take(&record).Error
	if err != nil {
		return Account{}, store.lookupError("find_account", err, ErrAccountNotFound)
	}
	return record.toAccount(), nil
}

// CreateUser inserts a user; the email unique index arbitrates concurrent writers.
func (store *DatabaseCredentialStore) CreateUser(ctx context.Context, newUser NewUser) (User, error) {
	record := newUserRecord(newUser)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("credential_store.create_user.%s: %w", store.driverLabel, ErrEmailTaken)
		}
		return User{}, fmt.Errorf("credential_store.create_user.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// CreateUserWithAccount inserts the user and its provider link in one transaction.
func (store *DatabaseCredentialStore) CreateUserWithAccount(ctx context.Context, newUser NewUser, providerID string, providerUserID string) (User, error) {
	record := newUserRecord(newUser)
	account := newAccountRecord(record.ID, providerID, providerUserID)
	transactionErr := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Create(&record).Error; err != nil {
			return err
		}
		return transaction.Create(&account).Error
	})
	if transactionErr != nil {
		if isUniqueViolation(transactionErr) {
			if _, linkedErr := store.FindUserByAccount(ctx, providerID, providerUserID); linkedErr == nil {
				return User{}, fmt.Errorf("credential_store.create_user_with_account.%s: %w", store.driverLabel, ErrAccountTaken)
			}
			return User{}, fmt.Errorf("credential_store.create_user_with_account.%s: %w", store.driverLabel, ErrEmailTaken)
		}
		return User{}, fmt.Errorf("credential_store.create_user_with_account.%s: %w", store.driverLabel, transactionErr)
	}
	return record.toUser(), nil
}

// LinkAccount attaches a provider identity to an existing user.
func (store *DatabaseCredentialStore) LinkAccount(ctx context.Context, userID string, providerID string, providerUserID string) (Account, error) {
	record := newAccountRecord(userID, providerID, providerUserID)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return Account{}, fmt.Errorf("credential_store.link_account.%s: %w", store.driverLabel, ErrAccountTaken)
		}
		return Account{}, fmt.Errorf("credential_store.link_account.%s: %w", store.driverLabel, err)
	}
	return record.toAccount(), nil
}

func (store *DatabaseCredentialStore) lookupError(operation string, err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("credential_store.%s.%s: %w", operation, store.driverLabel, notFound)
	}
	return fmt.Errorf("credential_store.%s.%s: %w", operation, store.driverLabel, err)
}

func newUserRecord(newUser NewUser) userRecord {
	return userRecord{
		ID:             uuid.NewString(),
		Email:          newUser.Email,
		Name:           newUser.Name,
		Image:          optionalString(newUser.Image),
		HashedPassword: optionalString(newUser.HashedPassword),
		CreatedAtUnix:  time.Now().UTC().Unix(),
	}
}

func newAccountRecord(userID string, providerID string, providerUserID string) accountRecord {
	return accountRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		ProviderID:     providerID,
		ProviderUserID: providerUserID,
		CreatedAtUnix:  time.Now().UTC().Unix(),
	}
}

func (record userRecord) toUser() User {
	user := User{
		ID:        record.ID,
		Email:     record.Email,
		Name:      record.Name,
		CreatedAt: time.Unix(record.CreatedAtUnix, 0).UTC(),
	}
	if record.Image != nil {
		user.Image = *record.Image
	}
	if record.HashedPassword != nil {
		user.HashedPassword = *record.HashedPassword
	}
	return user
}

func (record accountRecord) toAccount() Account {
	return Account{
		ID:             record.ID,
		UserID:         record.UserID,
		ProviderID:     record.ProviderID,
		ProviderUserID: record.ProviderUserID,
		CreatedAt:      time.Unix(record.CreatedAtUnix, 0).UTC(),
	}
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
