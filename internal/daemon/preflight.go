package daemon

import (
	"fmt"

	"golang.org/x/sys/unix"

	"sonomap/internal/services"
)

// checkFreeSpace fails startup when the filesystem holding the cache has
// less than minFreeMB available. Running with a full disk would turn every
// cache write into a silent failure.
func checkFreeSpace(path string, minFreeMB int64) error {
	if minFreeMB <= 0 {
		return nil
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "preflight",
			fmt.Sprintf("stat filesystem at %s", path), err)
	}

	freeMB := int64(stat.Bavail) * stat.Bsize / (1024 * 1024)
	if freeMB < minFreeMB {
		return services.Wrap(services.ErrConfiguration, "daemon", "preflight",
			fmt.Sprintf("only %d MB free at %s, need %d MB", freeMB, path, minFreeMB), nil)
	}
	return nil
}
