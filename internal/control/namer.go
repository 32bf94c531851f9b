package control

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Namer publishes and withdraws the channel's symbolic alias.
type Namer interface {
	Publish(alias, target string) error
	Unpublish(alias string) error
}

// SymlinkNamer publishes aliases as filesystem symlinks.
type SymlinkNamer struct{}

var _ Namer = SymlinkNamer{}

// Publish points alias at target. A stale symlink left behind by a previous
// channel is replaced; any other file at alias is treated as in use.
func (SymlinkNamer) Publish(alias, target string) error {
	if err := os.MkdirAll(filepath.Dir(alias), 0o755); err != nil {
		return fmt.Errorf("creating alias directory: %w", err)
	}

	fi, err := os.Lstat(alias)
	switch {
	case err == nil && fi.Mode()&fs.ModeSymlink == 0:
		return fmt.Errorf("%w: %s is not a symlink", ErrNameInUse, alias)
	case err == nil:
		if err := os.Remove(alias); err != nil {
			return fmt.Errorf("removing stale alias: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking alias: %w", err)
	}

	if err := os.Symlink(target, alias); err != nil {
		return fmt.Errorf("creating alias: %w", err)
	}
	return nil
}

// Unpublish removes alias. A missing alias is not an error.
func (SymlinkNamer) Unpublish(alias string) error {
	fi, err := os.Lstat(alias)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking alias: %w", err)
	}
	if fi.Mode()&fs.ModeSymlink == 0 {
		return fmt.Errorf("%w: %s is not a symlink", ErrNameInUse, alias)
	}
	if err := os.Remove(alias); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing alias: %w", err)
	}
	return nil
}
