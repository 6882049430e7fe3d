package core

import (
	"fmt"
	"strings"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/worktrack/agent/internal/types"
)

// Provider lazily builds the single database connection shared by every DAO
// and the job queue. The dialect is fixed at construction; the connection is
// opened on first use and reused for the rest of the process lifetime.
type Provider struct {
	dialect string
	dsn     string

	mu sync.Mutex
	db *gorm.DB
}

// NewProvider configures a provider for the given dialect: "sqlite" (default,
// dsn is the database file path), "postgres" or "mysql".
func NewProvider(dialect, dsn string) *Provider {
	if dialect == "" {
		dialect = "sqlite"
	}
	return &Provider{dialect: dialect, dsn: dsn}
}

// DB returns the shared connection, opening it and running migrations on
// first call.
func (p *Provider) DB() (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	var dialector gorm.Dialector
	switch p.dialect {
	case "sqlite":
		dialector = sqlite.Open(p.dsn)
	case "postgres":
		dialector = postgres.Open(p.dsn)
	case "mysql":
		dialector = mysql.Open(p.dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", p.dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if p.dialect == "sqlite" {
		// WAL keeps the writer from starving the merger's reads; the busy
		// timeout bounds lock waits so the queue's retry policy can engage.
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		}
		for _, pragma := range pragmas {
			if err := db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("failed to exec %q: %w", pragma, err)
			}
		}
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	p.db = db
	return p.db, nil
}

// Close tears down the underlying connection if one was opened.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	p.db = nil
	return sqlDB.Close()
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.WindowEvent{},
		&types.AFKEvent{},
		&types.ChromeEvent{},
		&types.FirefoxEvent{},
		&types.Timer{},
		&types.FailedRequest{},
		&types.Setting{},
		&types.OfflineWindow{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// IsLockError reports whether err is transient local-store contention: the
// one error class the job queue retries instead of failing immediately.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "connection timeout") ||
		strings.Contains(msg, "timeout acquiring a connection")
}
