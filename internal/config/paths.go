package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	baseDirOnce sync.Once
	baseDir     string
)

// BaseDir returns the directory relative paths are resolved against: the
// CARWASH_HOME variable when set, otherwise the directory of the executable.
// It falls back to the working directory when the executable cannot be located.
func BaseDir() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	baseDirOnce.Do(func() {
		exe, err := os.Executable()
		if err == nil {
			exe, err = filepath.EvalSymlinks(exe)
		}
		if err != nil {
			baseDir = "."
			return
		}
		baseDir = filepath.Dir(exe)
	})
	return baseDir
}

// ResolvePath makes path absolute. "~/" expands to the user's home directory,
// other relative paths are joined to BaseDir. ":memory:" and "" are returned unchanged.
func ResolvePath(path string) string {
	switch {
	case path == "" || path == ":memory:":
		return path
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(BaseDir(), path)
}
