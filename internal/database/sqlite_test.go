package database

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type loggedRow struct {
	ID   uint
	Name string
}

func TestOpenRoutesQueryErrorsThroughZap(testContext *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	database, err := Open(filepath.Join(testContext.TempDir(), "logged.db"), zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&loggedRow{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var row loggedRow
	err = database.Take(&row, 42).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		testContext.Fatalf("expected record not found, got %v", err)
	}
	if logs.Len() != 0 {
		testContext.Fatalf("expected record-not-found to stay silent, got %d entries", logs.Len())
	}

	if err := database.Exec("SELECT * FROM missing_table").Error; err == nil {
		testContext.Fatalf("expected query against missing table to fail")
	}
	entries := logs.FilterMessage("query failed").All()
	if len(entries) != 1 {
		testContext.Fatalf("expected one query failure entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "gorm" {
		testContext.Fatalf("expected gorm logger name, got %q", entries[0].LoggerName)
	}
}
