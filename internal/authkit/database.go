package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const postgresUniqueViolation = "23505"

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("database.unsupported_no_scheme")
)

// Database is an opened GORM handle plus the driver label used in error codes.
type Database struct {
	DB     *gorm.DB
	Driver string
}

// OpenDatabase resolves the dialector from the URL scheme and opens a GORM handle.
func OpenDatabase(ctx context.Context, databaseURL string) (*Database, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, openErr)
	}
	sqlDB, handleErr := gormDB.DB()
	if handleErr != nil {
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, handleErr)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		return nil, fmt.Errorf("database.ping.%s: %w", driverLabel, pingErr)
	}
	return &Database{DB: gormDB, Driver: driverLabel}, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}

// isUniqueViolation recognizes unique-constraint failures across drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) && pgError.Code == postgresUniqueViolation {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
