package sqlstore_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"note-queue-service/internal/repository"
	"note-queue-service/internal/repository/repotest"
	"note-queue-service/internal/repository/sqlstore"
)

func openTestStore(t *testing.T, now func() time.Time) repository.JobStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sqlstore.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return sqlstore.NewJobStore(db, sqlstore.WithClock(now))
}

func TestJobStore_Conformance(t *testing.T) {
	repotest.Run(t, openTestStore)
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := sqlstore.Open("oracle", "x"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
