//go:build linux || darwin

package store

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// XattrExcluder marks storage files as excluded from backups with an
// extended attribute. On macOS this is the attribute Time Machine honours;
// elsewhere it is the freedesktop xdg.robots.backup hint.
type XattrExcluder struct{}

func backupXattr() (name string, value []byte) {
	if runtime.GOOS == "darwin" {
		return "com.apple.metadata:com_apple_backup_excludeItem", []byte("com.apple.backupd")
	}
	return "user.xdg.robots.backup", []byte("false")
}

// Exclude tags location and any SQLite sidecar files next to it.
func (XattrExcluder) Exclude(location string) error {
	name, value := backupXattr()

	var errs []error
	for _, path := range []string{location, location + "-wal", location + "-shm"} {
		if _, err := os.Stat(path); err != nil {
			if path == location {
				errs = append(errs, fmt.Errorf("stat %s: %w", path, err))
			}
			continue
		}
		if err := unix.Setxattr(path, name, value, 0); err != nil {
			errs = append(errs, fmt.Errorf("setting %s on %s: %w", name, path, err))
		}
	}
	return errors.Join(errs...)
}
