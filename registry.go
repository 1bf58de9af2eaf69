package miso

import (
	"fmt"
	"sort"
	"sync"
)

// ImporterFactory creates an importer from string configuration, e.g. {"path": "x.csv"}.
type ImporterFactory func(cfg map[string]string) (Importer, error)

// ParserFactory creates a parser from string configuration.
type ParserFactory func(cfg map[string]string) (Parser, error)

// Registry maps names to importer and parser constructors.
type Registry struct {
	mu        sync.RWMutex
	importers map[string]ImporterFactory
	parsers   map[string]ParserFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		importers: map[string]ImporterFactory{},
		parsers:   map[string]ParserFactory{},
	}
}

// DefaultRegistry is the process-wide registry. It starts empty; packages importer and
// parser provide RegisterAll functions to fill it.
var DefaultRegistry = NewRegistry()

// RegisterImporter adds a named importer. Names are unique.
func (r *Registry) RegisterImporter(name string, f ImporterFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.importers[name]; ok {
		return newStructuralError("importer %q already registered", name)
	}
	r.importers[name] = f
	return nil
}

// RegisterParser adds a named parser. Names are unique.
func (r *Registry) RegisterParser(name string, f ParserFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parsers[name]; ok {
		return newStructuralError("parser %q already registered", name)
	}
	r.parsers[name] = f
	return nil
}

// Importer constructs the named importer.
func (r *Registry) Importer(name string, cfg map[string]string) (Importer, error) {
	r.mu.RLock()
	f, ok := r.importers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{What: "importer", Key: name}
	}
	imp, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("importer %s: %w", name, err)
	}
	return imp, nil
}

// Parser constructs the named parser.
func (r *Registry) Parser(name string, cfg map[string]string) (Parser, error) {
	r.mu.RLock()
	f, ok := r.parsers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{What: "parser", Key: name}
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", name, err)
	}
	return p, nil
}

// Importers lists the registered importer names.
func (r *Registry) Importers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.importers)
}

// Parsers lists the registered parser names.
func (r *Registry) Parsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.parsers)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
