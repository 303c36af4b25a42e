package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported sessions schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type sessionSchema struct {
	ID         string         `toml:"id"`
	LastRunSeq uint64         `toml:"last_run_seq"`
	CreatedAt  string         `toml:"created_at"`
	UpdatedAt  string         `toml:"updated_at"`
	Values     map[string]any `toml:"values,omitempty"`
	Widgets    map[string]any `toml:"widgets,omitempty"`
}
