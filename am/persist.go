package am

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/bfhtw/errors"
)

// Save writes cfg to path in the format implied by its extension.
// An existing file is rotated into .back1..3 first.
func Save(path string, cfg *Config) error {
	data, err := render(path, cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Wrap(err, "failed to create config directory")
		}
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Mark this as our own write to prevent reload loops
	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// render encodes cfg. yaml tags drive every format: the yaml encoding is
// decoded back into a generic map, which toml and json then encode.
func render(path string, cfg *Config) ([]byte, error) {
	format, err := configType(path)
	if err != nil {
		return nil, err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	if format == "yaml" {
		return out, nil
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to re-read config")
	}

	switch format {
	case "toml":
		out, err = toml.Marshal(doc)
	case "json":
		out, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal config as %s", format)
	}
	return out, nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	// .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back := func(n int) string { return fmt.Sprintf("%s.back%d", configPath, n) }

	if err := os.Remove(back(3)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back(3))
	}
	for n := 2; n >= 1; n-- {
		if _, err := os.Stat(back(n)); err == nil {
			if err := os.Rename(back(n), back(n+1)); err != nil {
				return errors.Wrapf(err, "failed to rotate .back%d to .back%d", n, n+1)
			}
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back(1), content, 0644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
