// Package tomlsource serves content partitions from a local TOML file, laid out
// the same way as the spreadsheet tabs:
//
//	version = 1
//
//	[[partition]]
//	name = "Config"
//	rows = [["welcome_sequence_1", "Hi!"], ["final_cta_text", "Bye"]]
package tomlsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"archetype-quiz/internal/content"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version    int               `toml:"version"`
	Partitions []partitionSchema `toml:"partition"`
}

type partitionSchema struct {
	Name string     `toml:"name"`
	Rows [][]string `toml:"rows"`
}

func (s fileSchema) validate() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported content schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	seen := make(map[string]bool, len(s.Partitions))
	for _, p := range s.Partitions {
		if p.Name == "" {
			return errors.New("partition without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate partition %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Source re-reads its file when the modification time changes, so edits show
// up once the content cache entries expire.
type Source struct {
	path string

	mu         sync.RWMutex
	modTime    int64
	partitions map[string][][]string
}

var _ content.Source = (*Source)(nil)

// New opens and validates the file at path.
func New(path string) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("tomlsource: resolve path: %w", err)
	}
	s := &Source{path: filepath.Clean(abs)}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse builds an in-memory Source from TOML data. It never reloads.
func Parse(data []byte) (*Source, error) {
	parts, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &Source{partitions: parts}, nil
}

func (s *Source) Rows(ctx context.Context, partition string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts, err := s.load()
	if err != nil {
		return nil, err
	}
	rows, ok := parts[partition]
	if !ok {
		return nil, fmt.Errorf("tomlsource: %s: %w", partition, content.ErrPartitionNotFound)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (s *Source) load() (map[string][][]string, error) {
	if s.path == "" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.partitions, nil
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("tomlsource: stat content file: %w", err)
	}
	mod := info.ModTime().UnixNano()

	s.mu.RLock()
	if s.partitions != nil && s.modTime == mod {
		parts := s.partitions
		s.mu.RUnlock()
		return parts, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("tomlsource: read content file: %w", err)
	}
	parts, err := decode(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.partitions = parts
	s.modTime = mod
	s.mu.Unlock()
	return parts, nil
}

func decode(data []byte) (map[string][][]string, error) {
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tomlsource: decode content file: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("tomlsource: %w", err)
	}
	parts := make(map[string][][]string, len(file.Partitions))
	for _, p := range file.Partitions {
		parts[p.Name] = p.Rows
	}
	return parts, nil
}
