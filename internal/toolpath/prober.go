package toolpath

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Pseudo and volatile filesystems never hold installed tools.
var skipDirs = map[string]bool{
	"/proc": true,
	"/sys":  true,
	"/dev":  true,
	"/run":  true,
	"/tmp":  true,
}

var errStopWalk = errors.New("stop walk")

// OSProber probes the real filesystem.
type OSProber struct{}

func (OSProber) IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

func (OSProber) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (OSProber) Find(root string, maxDepth int, match func(path string) bool) (string, bool) {
	root = filepath.Clean(root)
	baseDepth := depth(root)
	var found string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (skipDirs[path] || depth(path)-baseDepth >= maxDepth) {
				return fs.SkipDir
			}
			return nil
		}
		if match(path) {
			found = path
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", false
	}
	return found, found != ""
}

func depth(path string) int {
	if path == string(filepath.Separator) {
		return 0
	}
	return strings.Count(path, string(filepath.Separator))
}
