package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const memoryPath = ":memory:"

// Open establishes a SQLite connection. Schema work is left to Initializer so the
// HTTP listener can start before the database is ready.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if logger != nil {
		logger.Info("database opened", zap.String("path", path))
	}

	return db, nil
}

func isMemoryPath(path string) bool {
	return path == memoryPath || strings.Contains(path, "mode=memory")
}
