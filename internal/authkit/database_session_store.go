package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DatabaseSessionStore persists sessions using GORM.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
}

type sessionRecordRow struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (sessionRecordRow) TableName() string {
	return "sessions"
}

// NewDatabaseSessionStore migrates the sessions table.
func NewDatabaseSessionStore(ctx context.Context, database *Database) (*DatabaseSessionStore, error) {
	if migrateErr := database.DB.WithContext(ctx).AutoMigrate(&sessionRecordRow{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", database.Driver, migrateErr)
	}
	return &DatabaseSessionStore{db: database.DB, driverLabel: database.Driver}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

// Insert persists a new session row.
func (store *DatabaseSessionStore) Insert(ctx context.Context, record SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session_store.insert.%s: %w", store.driverLabel, ErrSessionEmptyID)
	}
	row := sessionRecordRow{
		SessionID:     record.ID,
		UserID:        record.UserID,
		ExpiresUnix:   record.ExpiresAt.UTC().Unix(),
		CreatedAtUnix: record.CreatedAt.UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("session_store.insert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Find locates a session row by id.
func (store *DatabaseSessionStore) Find(ctx context.Context, sessionID string) (SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionRecord{}, fmt.Errorf("session_store.find.%s: %w", store.driverLabel, ErrSessionEmptyID)
	}
	var row sessionRecordRow
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, fmt.Errorf("session_store.find.%s: %w", store.driverLabel, ErrSessionNotFound)
		}
		return SessionRecord{}, fmt.Errorf("session_store.find.%s: %w", store.driverLabel, err)
	}
	return SessionRecord{
		ID:        row.SessionID,
		UserID:    row.UserID,
		ExpiresAt: time.Unix(row.ExpiresUnix, 0).UTC(),
		CreatedAt: time.Unix(row.CreatedAtUnix, 0).UTC(),
	}, nil
}

// UpdateExpiry extends an existing session.
func (store *DatabaseSessionStore) UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	result := store.db.WithContext(ctx).Model(&sessionRecordRow{}).
		Where("session_id = ?", sessionID).
		Update("expires_unix", expiresAt.UTC().Unix())
	if result.Error != nil {
		return fmt.Errorf("session_store.update_expiry.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session_store.update_expiry.%s: %w", store.driverLabel, ErrSessionNotFound)
	}
	return nil
}

// Delete removes a session row.
func (store *DatabaseSessionStore) Delete(ctx context.Context, sessionID string) error {
	result := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&sessionRecordRow{})
	if result.Error != nil {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, ErrSessionNotFound)
	}
	return nil
}

// DeleteExpired purges sessions whose expiry is before now.
func (store *DatabaseSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := store.db.WithContext(ctx).Where("expires_unix < ?", now.UTC().Unix()).Delete(&sessionRecordRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("session_store.delete_expired.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}
