// Package app wires workspace-level concerns shared by the CLI and the
// server entrypoints.
package app

import (
	"fmt"
	"os"

	"trackline/internal/config"
)

// ResolveConfig loads trackline.yml from the workspace, falling back to
// the built-in defaults when no file exists. A present-but-invalid file
// is an error, never silently replaced.
func ResolveConfig(workspace, programOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		programID := programOverride
		if programID == "" {
			programID = "default-program"
		}
		cfg = config.Default(programID)
	}
	if programOverride != "" {
		cfg.Program.ID = programOverride
	}
	return cfg, nil
}

// WriteDefaultConfig seeds trackline.yml in the workspace. Refuses to
// overwrite an existing file.
func WriteDefaultConfig(workspace, programID string) (string, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config %s already exists", path)
	}
	if programID == "" {
		programID = "default-program"
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(programID)), 0o644); err != nil {
		return path, err
	}
	return path, nil
}
