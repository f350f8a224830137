package test

import (
	"path/filepath"
	"testing"
	"time"

	"pastekv/cfg"
	"pastekv/pkg/token"
	"pastekv/svc/cache"
	"pastekv/svc/db"
	"pastekv/svc/exp"
	"pastekv/svc/svc"
)

func createTestConfig() *cfg.Cfg {
	return &cfg.Cfg{
		MaxTitleLen:    200,
		MaxContentSize: 80 * 1024,
		MaxTTL:         7 * 24 * time.Hour,
		ReapInterval:   2 * time.Second,
	}
}

func createTestTable(t *testing.T) *db.Table {
	t.Helper()
	table, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func createTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec([]byte("integration-test-magic"))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func createTestLRU(t *testing.T, size int) *cache.LRU {
	t.Helper()
	lru, err := cache.NewLRU(size)
	if err != nil {
		t.Fatalf("new lru: %v", err)
	}
	return lru
}

func createTestService(t *testing.T) (*svc.Paste, *exp.Index, *db.Table) {
	t.Helper()
	table := createTestTable(t)
	idx := exp.NewIndex()
	p := svc.NewPaste(table, idx, createTestCodec(t), createTestLRU(t, 100), createTestConfig())
	return p, idx, table
}
