package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"promptd/internal/common/fsutil"
)

// binaryName is the llama.cpp server executable we manage.
func binaryName() string {
	if runtime.GOOS == "windows" {
		return "llama-server.exe"
	}
	return "llama-server"
}

// FindBinary locates the llama-server binary. Search order:
//
//  1. next to our own executable (bundled installs)
//  2. the explicitly configured path
//  3. the PATH environment
//  4. well-known install directories
//
// The first executable match wins. When nothing matches, the returned
// BinaryNotFound error names every searched location.
func FindBinary(configured string) (string, error) {
	name := binaryName()
	var searched []string

	if exe, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exe), name)
		searched = append(searched, bundled)
		if fsutil.IsExecutable(bundled) {
			return bundled, nil
		}
	}

	if configured != "" {
		p, err := fsutil.ExpandHome(configured)
		if err == nil {
			searched = append(searched, p)
			if fsutil.IsExecutable(p) {
				return p, nil
			}
		} else {
			searched = append(searched, configured)
		}
	}

	searched = append(searched, "$PATH")
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	for _, dir := range wellKnownDirs() {
		p := filepath.Join(dir, name)
		searched = append(searched, p)
		if fsutil.IsExecutable(p) {
			return p, nil
		}
	}

	return "", ErrBinaryNotFound(searched)
}

// wellKnownDirs lists common llama.cpp install locations.
func wellKnownDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".local", "share", "promptd", "llama.cpp", "build", "bin"),
			filepath.Join(home, "llama.cpp", "build", "bin"),
			filepath.Join(home, ".local", "bin"),
		)
	}
	dirs = append(dirs, "/usr/local/bin", "/opt/homebrew/bin")
	return dirs
}
