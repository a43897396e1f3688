// Package file implements a PromptStore backed by a YAML catalog. It lets the
// agent run against local prompts without a Bedrock prompt-management
// resource.
package file

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

// ErrPromptNotFound is returned when no catalog entry matches.
var ErrPromptNotFound = errors.New("prompt not found")

// draftVersion is the version name Bedrock uses for the working draft.
const draftVersion = "DRAFT"

type catalog struct {
	Prompts []entry `koanf:"prompts"`
}

type entry struct {
	Identifier     string    `koanf:"identifier"`
	Version        string    `koanf:"version"`
	DefaultVariant string    `koanf:"default_variant"`
	Variants       []variant `koanf:"variants"`
}

type variant struct {
	Name string `koanf:"name"`
	Text string `koanf:"text"`
}

// Store serves prompts from a YAML file. The file is read on construction
// and on Reload.
//
//	prompts:
//	  - identifier: PROMPT1
//	    version: "2"
//	    default_variant: main
//	    variants:
//	      - name: main
//	        text: You are a helpful assistant.
type Store struct {
	path string

	mu      sync.RWMutex
	entries []entry
}

// New loads the catalog at path.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the catalog file.
func (s *Store) Reload() error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return fmt.Errorf("load prompt catalog %s: %w", s.path, err)
	}
	var c catalog
	if err := k.Unmarshal("", &c); err != nil {
		return fmt.Errorf("parse prompt catalog %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.entries = c.Prompts
	s.mu.Unlock()
	return nil
}

// GetPrompt returns the catalog entry for identifier and version. An empty
// version or "latest" selects the draft entry, or the first entry for the
// identifier when no draft exists.
func (s *Store) GetPrompt(ctx context.Context, identifier, version string) (*domain.PromptTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wantDraft := version == "" || strings.EqualFold(version, "latest")
	var first *entry
	for i := range s.entries {
		e := &s.entries[i]
		if e.Identifier != identifier {
			continue
		}
		if first == nil {
			first = e
		}
		if wantDraft && (e.Version == "" || e.Version == draftVersion) {
			return e.template(), nil
		}
		if !wantDraft && e.Version == version {
			return e.template(), nil
		}
	}
	if wantDraft && first != nil {
		return first.template(), nil
	}
	return nil, fmt.Errorf("%w: %s version %q", ErrPromptNotFound, identifier, version)
}

func (e *entry) template() *domain.PromptTemplate {
	t := &domain.PromptTemplate{
		Identifier:     e.Identifier,
		Version:        e.Version,
		DefaultVariant: e.DefaultVariant,
		Variants:       make([]domain.PromptVariant, 0, len(e.Variants)),
	}
	for _, v := range e.Variants {
		t.Variants = append(t.Variants, domain.PromptVariant{Name: v.Name, Text: v.Text})
	}
	return t
}

var _ ports.PromptStore = (*Store)(nil)
