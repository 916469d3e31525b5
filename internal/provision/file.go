package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// File stores each blob as <dir>/<ref>.yaml.
type File struct {
	dir string
}

// NewFile creates a file store rooted at dir. The directory is created on
// the first Put.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(ref string) string {
	return filepath.Join(f.dir, ref+".yaml")
}

// Get reads and parses the blob for ref.
func (f *File) Get(ctx context.Context, ref string) (paramset.Set, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set, err := paramset.Load(f.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	return set, nil
}

// Put writes set to <dir>/<ref>.yaml, replacing the file atomically.
func (f *File) Put(ctx context.Context, ref string, set paramset.Set) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := set.Marshal()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ref, err)
	}
	if err := os.MkdirAll(f.dir, dirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+ref+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("writing %s: %w", ref, err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("setting permissions on %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", ref, err)
	}
	if err := os.Rename(tmp.Name(), f.path(ref)); err != nil {
		return fmt.Errorf("replacing %s: %w", ref, err)
	}
	return nil
}
