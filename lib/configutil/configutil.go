package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// Layers returns the files that make up the configuration `name`, lowest
// priority first.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func Layers(name string) []string {
	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))
	return []string{
		name,
		filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefixname, ext)),
	}
}

// ReadConfigOver decodes every layer of `name` on top of base. A key present
// in a layer replaces the value below it, keys that are absent keep it. It
// fails with os.ErrNotExist when no layer exists.
func ReadConfigOver[T any](name string, base T) (T, error) {
	out := base
	allNotFound := true

	for i, layer := range Layers(name) {
		contents, err := os.ReadFile(layer)
		if err != nil && !os.IsNotExist(err) {
			return base, err
		}
		if len(contents) == 0 {
			continue
		}
		err = json5.Unmarshal(contents, &out)
		if err != nil {
			return base, fmt.Errorf("%s: %w", layer, err)
		}
		if i > 0 {
			slog.Info("merging config with local overrides", "local", layer)
		}
		allNotFound = false
	}

	if allNotFound {
		return base, os.ErrNotExist
	}
	return out, nil
}

// ReadConfig is ReadConfigOver starting from T's zero value.
func ReadConfig[T any](name string) (T, error) {
	var zero T
	return ReadConfigOver(name, zero)
}

// ReadRecursively is ReadConfigOver but it goes up the filesystem until the
// root to find a configuration file matching the name.
func ReadRecursively[T any](name string, base T) (T, error) {
	root, err := filepath.Abs("/")
	if err != nil {
		return base, err
	}
	current, err := os.Getwd()
	if err != nil {
		return base, err
	}

	for current != root {
		config, err := ReadConfigOver(filepath.Join(current, name), base)
		if os.IsNotExist(err) {
			current = filepath.Dir(current)
			continue
		}
		if err != nil {
			return base, err
		}
		return config, nil
	}

	return base, os.ErrNotExist
}

// FillDefaults sets every zero field of dst, recursively, to the value it
// has in defaults.
func FillDefaults[T any](dst *T, defaults T) error {
	return mergo.Merge(dst, defaults)
}
