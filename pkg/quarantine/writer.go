package quarantine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinharbor/warden/pkg/canonical"
)

// WriteError reports an OS-level failure during an atomic write. The
// destination is guaranteed untouched and the temp file removed.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("atomic write failed for %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteAtomic serializes v to canonical JSON and commits it to path with the
// temp-file-and-rename pattern. The destination is only ever observed fully
// absent, fully containing its prior content, or fully containing v.
//
// Directory creation is lazy and idempotent. A stale temp file from a prior
// interrupted attempt is overwritten and then consumed by the rename.
func (c *Contract) WriteAtomic(cat Category, name string, v any) (string, string, error) {
	path, err := c.ResolvePath(cat, name)
	if err != nil {
		return "", "", err
	}

	payload, err := canonical.Marshal(v)
	if err != nil {
		return "", "", err
	}
	hash := canonical.HashBytes(payload)

	//nolint:gosec // G301: category dirs are shared with external cleanup tooling
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", &WriteError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G302,G304: path validated by contract
	if err != nil {
		return "", "", &WriteError{Path: path, Err: err}
	}

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", "", &WriteError{Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", "", &WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", "", &WriteError{Path: path, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", "", &WriteError{Path: path, Err: err}
	}

	return path, hash, nil
}

// ReadRecord reads a previously committed record back as raw canonical JSON.
func (c *Contract) ReadRecord(cat Category, name string) ([]byte, error) {
	path, err := c.ResolvePath(cat, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path validated by contract
	if err != nil {
		return nil, fmt.Errorf("quarantine: read %s: %w", path, err)
	}
	return data, nil
}
