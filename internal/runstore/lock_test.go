package runstore

import (
	"strings"
	"testing"
)

func TestAcquireDirLock_BlocksConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = AcquireDirLock(dir)
	if err == nil {
		t.Fatalf("expected second acquire to fail")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected lock error, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := AcquireDirLock(dir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}

func TestAcquireDirLock_RequiresDirectory(t *testing.T) {
	if _, err := AcquireDirLock("  "); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}
