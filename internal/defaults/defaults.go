// Package defaults owns the data directory and the files seeded into it.
//
// The directory is, per platform:
//
//	macOS:   ~/Library/Application Support/Browserd/
//	Windows: %AppData%\Browserd\
//	Linux:   ~/.config/browserd/
//
// BROWSERD_DATA_DIR overrides all of them.
package defaults

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

const (
	// ConfigFile is the user configuration inside the data dir.
	ConfigFile = "browserd.yaml"
	// JournalFile is the default command journal database.
	JournalFile = "journal.db"

	envDataDir = "BROWSERD_DATA_DIR"
)

//go:embed dotbrowserd/*
var embedded embed.FS

// seed is the embedded tree rooted at dotbrowserd/.
var seed = func() fs.FS {
	sub, err := fs.Sub(embedded, "dotbrowserd")
	if err != nil {
		panic(err)
	}
	return sub
}()

func DataDir() (string, error) {
	if dir := os.Getenv(envDataDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	name := "Browserd"
	if runtime.GOOS == "linux" {
		name = "browserd"
	}
	return filepath.Join(base, name), nil
}

func inDataDir(name string) (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPath is <data dir>/browserd.yaml.
func ConfigPath() (string, error) { return inDataDir(ConfigFile) }

// JournalPath is <data dir>/journal.db.
func JournalPath() (string, error) { return inDataDir(JournalFile) }

// EnsureDataDir creates the data dir and seeds any file that is missing.
// Existing files are left alone.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if _, err := install(dir, false); err != nil {
		return "", err
	}
	return dir, nil
}

// Reset overwrites the seeded files in dir and returns their names.
// The journal is not a seeded file, so it survives.
func Reset(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return install(dir, true)
}

// install copies the seed tree into dir and returns the files it wrote.
func install(dir string, overwrite bool) ([]string, error) {
	var written []string
	err := fs.WalkDir(seed, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || name == "." {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(name))
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !overwrite {
			if _, err := os.Stat(dest); err == nil {
				return nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		data, err := fs.ReadFile(seed, name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		written = append(written, name)
		return nil
	})
	return written, err
}

// GetDefault returns a seeded file by its slash-separated name.
func GetDefault(name string) ([]byte, error) {
	return fs.ReadFile(seed, name)
}

// ListDefaults returns the seeded file names, sorted.
func ListDefaults() ([]string, error) {
	var names []string
	err := fs.WalkDir(seed, ".", func(name string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			names = append(names, name)
		}
		return err
	})
	sort.Strings(names)
	return names, err
}
