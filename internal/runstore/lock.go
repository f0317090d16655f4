package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirLockName      = ".media-fetchd.lock"
	dirLockOwnerFile = "owner.json"
)

// DirLock marks an output directory as driven by one process. The downloader
// ledger inside that directory is rewritten between attempts, which is only
// safe while a single scheduler owns it.
type DirLock struct {
	lockDir string
}

type dirLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireDirLock(dir string) (DirLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return DirLock{}, fmt.Errorf("output directory is required")
	}
	if err := Mkdir(target); err != nil {
		return DirLock{}, err
	}

	lockDir := filepath.Join(target, dirLockName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner dirLockOwner
			if readErr := ReadJSON(filepath.Join(lockDir, dirLockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
				return DirLock{}, fmt.Errorf(
					"output directory is locked: %s (pid=%d created_at=%s host=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return DirLock{}, fmt.Errorf("output directory is locked: %s", target)
		}
		return DirLock{}, fmt.Errorf("acquire lock for %s: %w", target, err)
	}

	owner := dirLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, dirLockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return DirLock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return DirLock{lockDir: lockDir}, nil
}

func (l DirLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	if err := os.RemoveAll(l.lockDir); err != nil {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
