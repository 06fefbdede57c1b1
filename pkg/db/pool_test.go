package db

import (
	"context"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestNewPool_RejectsBadURLs(t *testing.T) {
	for _, url := range []string{"", "invalid://not-a-valid-database-url"} {
		t.Run(url, func(t *testing.T) {
			pool, err := NewPool(context.Background(), url)
			if err == nil {
				pool.Close()
				t.Fatalf("%s - expected error for %q", poolTestPrefix, url)
			}
			if pool != nil {
				t.Errorf("%s - expected nil pool on error", poolTestPrefix)
			}
		})
	}
}

func TestMigrationDown_IsForwardOnly(t *testing.T) {
	if err := MigrationDown(context.Background(), nil, ""); err != nil {
		t.Errorf("%s - MigrationDown returned %v, want nil", poolTestPrefix, err)
	}
}
