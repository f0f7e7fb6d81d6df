// Package prefs persists the bearer token and the display theme between
// runs in a small YAML file.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

var ErrInvalidTheme = errors.New("prefs: theme must be light or dark")

type state struct {
	Token string `yaml:"token,omitempty"`
	Theme Theme  `yaml:"theme,omitempty"`
}

// File is a YAML-backed preference store. It satisfies uptime.TokenStore.
type File struct {
	mu   sync.Mutex
	path string
}

// DefaultPath is $XDG_CONFIG_HOME/uptime-client/state.yaml, or the
// platform's user config directory when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("prefs: locate config dir: %w", err)
	}
	return filepath.Join(dir, "uptime-client", "state.yaml"), nil
}

func Open(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) LoadToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	return st.Token, err
}

func (f *File) SaveToken(token string) error {
	return f.update(func(st *state) { st.Token = token })
}

func (f *File) ClearToken() error {
	return f.update(func(st *state) { st.Token = "" })
}

// Theme returns the stored theme, ThemeLight when none is stored.
func (f *File) Theme() (Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	if err != nil {
		return ThemeLight, err
	}
	if st.Theme == "" {
		return ThemeLight, nil
	}
	return st.Theme, nil
}

func (f *File) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, t)
	}
	return f.update(func(st *state) { st.Theme = t })
}

// Toggle flips the theme and returns the new value.
func (f *File) Toggle() (Theme, error) {
	var next Theme
	err := f.update(func(st *state) {
		next = ThemeDark
		if st.Theme == ThemeDark {
			next = ThemeLight
		}
		st.Theme = next
	})
	return next, err
}

func (f *File) update(fn func(*state)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	if err != nil {
		return err
	}
	fn(&st)
	return f.write(st)
}

// read treats a missing file as empty.
func (f *File) read() (state, error) {
	var st state
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("prefs: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("prefs: decode %s: %w", f.path, err)
	}
	return st, nil
}

// write replaces the file through a temp file in the same directory.
func (f *File) write(st state) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("prefs: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("prefs: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("prefs: replace %s: %w", f.path, err)
	}
	return nil
}
