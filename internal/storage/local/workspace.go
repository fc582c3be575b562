// Package local manages the on-disk workspace where download artifacts live.
// The layout is base_dir/<session_id>/<job_id>/, so removing a session or job
// directory removes everything it produced.
package local

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local workspace.
type Config struct {
	// BaseDir is the root directory where job artifacts are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Workspace hands out per-job directories under a validated base directory.
type Workspace struct {
	baseDir string
}

// New creates the workspace, ensuring the base directory exists and is
// writable before any job runs.
func New(cfg Config) (*Workspace, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Workspace{baseDir: cfg.BaseDir}, nil
}

// JobPath returns the directory assigned to one job. It is a pure function of
// the ids; nothing is created.
func (w *Workspace) JobPath(sessionID, jobID string) (string, error) {
	return w.resolve(sessionID, jobID)
}

// EnsureJobDir creates the job's directory and returns its path.
func (w *Workspace) EnsureJobDir(sessionID, jobID string) (string, error) {
	dir, err := w.resolve(sessionID, jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

// RemoveJob deletes one job's directory and everything in it.
func (w *Workspace) RemoveJob(sessionID, jobID string) error {
	dir, err := w.resolve(sessionID, jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	return nil
}

// RemoveSession deletes a session's directory tree, artifacts included.
func (w *Workspace) RemoveSession(sessionID string) error {
	dir, err := w.resolve(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}

// Usage walks the workspace and sums file sizes.
func (w *Workspace) Usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(w.baseDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk while jobs get cleaned up.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk workspace: %w", err)
	}
	return total, nil
}

// resolve joins the ids under the base directory and rejects anything that
// would escape it, such as a ".." segment smuggled into an id.
func (w *Workspace) resolve(parts ...string) (string, error) {
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return "", fmt.Errorf("path segment is required")
		}
	}
	full := filepath.Join(append([]string{w.baseDir}, parts...)...)
	cleanBase := filepath.Clean(w.baseDir)
	cleanFull := filepath.Clean(full)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFull, nil
}
