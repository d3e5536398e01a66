package appdir

import (
	"os"
	"path/filepath"
	"sync"
)

// EnvDir overrides the application directory.
const EnvDir = "CRYPTOMID_HOME"

var (
	appDirOnce  sync.Once
	appDirCache string
)

// AppDir returns the per-user state directory, creating it on first use.
func AppDir() string {
	appDirOnce.Do(func() {
		dir := os.Getenv(EnvDir)
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				home = os.TempDir()
			}
			dir = filepath.Join(home, ".cryptomid")
		}
		os.MkdirAll(dir, 0o755)
		appDirCache = dir
	})
	return appDirCache
}
