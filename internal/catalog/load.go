package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir walks dir for YAML target documents and registers every one of
// them. A missing directory yields an empty registry rather than an error so
// a freshly deployed service starts with nothing catalogued.
func LoadDir(dir string) (*Registry, error) {
	reg := NewRegistry()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return reg, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var t Target
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := reg.Register(&t); err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	return reg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
