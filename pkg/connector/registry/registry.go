package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/record"
	"go.uber.org/zap"
)

// Capability describes how a source yields records.
type Capability int

const (
	// OneShot sources return one record per Read call.
	OneShot Capability = iota
	// Continuous sources yield an unbounded sequence.
	Continuous
)

func (c Capability) String() string {
	switch c {
	case OneShot:
		return "one-shot"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// SourceFactory builds reader connectors for one type tag. Exactly one of
// Reader and Stream must be set; it decides the source's capability.
type SourceFactory struct {
	Description string
	// Keyed sources wrap values in record.Message.
	Keyed bool
	// Validate checks the tag-specific fields without doing any I/O.
	Validate func(spec *config.ReaderSpec) error
	Reader   func(ctx context.Context, spec *config.ReaderSpec, rt *record.Type) (core.Reader[any], error)
	Stream   func(ctx context.Context, spec *config.ReaderSpec, rt *record.Type) (core.StreamReader[any], error)
}

// Capability reports whether the factory builds one-shot or continuous
// sources.
func (f SourceFactory) Capability() Capability {
	if f.Stream != nil {
		return Continuous
	}
	return OneShot
}

// Shape returns the record shape the source yields for rt.
func (f SourceFactory) Shape(rt *record.Type) record.Shape {
	return record.Shape{Keyed: f.Keyed, Type: rt.Name()}
}

// DestinationFactory builds writer connectors for one type tag.
type DestinationFactory struct {
	Description string
	// Keyed sinks accept record.Message values.
	Keyed    bool
	Validate func(spec *config.WriterSpec) error
	New      func(ctx context.Context, spec *config.WriterSpec, rt *record.Type) (core.Writer[any], error)
}

// Shape returns the record shape the sink accepts for rt.
func (f DestinationFactory) Shape(rt *record.Type) record.Shape {
	return record.Shape{Keyed: f.Keyed, Type: rt.Name()}
}

// Registry maps type tags to connector factories.
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	sourceAlias  map[string]string
	destAlias    map[string]string
	mu           sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		sourceAlias:  make(map[string]string),
		destAlias:    make(map[string]string),
	}
}

// RegisterSource registers a source factory under tag and any aliases.
func (r *Registry) RegisterSource(tag string, factory SourceFactory, aliases ...string) error {
	if (factory.Reader == nil) == (factory.Stream == nil) {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s must set exactly one of Reader and Stream", tag))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range append([]string{tag}, aliases...) {
		if _, exists := r.sources[name]; exists {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
		}
		if _, exists := r.sourceAlias[name]; exists {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
		}
	}

	r.sources[tag] = factory
	for _, a := range aliases {
		r.sourceAlias[a] = tag
	}
	logger.Debug("source connector registered",
		zap.String("component", "connector_registry"),
		zap.String("name", tag),
		zap.Strings("aliases", aliases),
		zap.Stringer("capability", factory.Capability()))
	return nil
}

// RegisterDestination registers a destination factory under tag and any
// aliases.
func (r *Registry) RegisterDestination(tag string, factory DestinationFactory, aliases ...string) error {
	if factory.New == nil {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s has no constructor", tag))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range append([]string{tag}, aliases...) {
		if _, exists := r.destinations[name]; exists {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
		}
		if _, exists := r.destAlias[name]; exists {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
		}
	}

	r.destinations[tag] = factory
	for _, a := range aliases {
		r.destAlias[a] = tag
	}
	logger.Debug("destination connector registered",
		zap.String("component", "connector_registry"),
		zap.String("name", tag),
		zap.Strings("aliases", aliases))
	return nil
}

// Source resolves a source factory by tag or alias.
func (r *Registry) Source(tag string) (SourceFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.sourceAlias[tag]; ok {
		tag = canonical
	}
	factory, exists := r.sources[tag]
	if !exists {
		return SourceFactory{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", tag))
	}
	return factory, nil
}

// Destination resolves a destination factory by tag or alias.
func (r *Registry) Destination(tag string) (DestinationFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.destAlias[tag]; ok {
		tag = canonical
	}
	factory, exists := r.destinations[tag]
	if !exists {
		return DestinationFactory{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", tag))
	}
	return factory, nil
}

// ListSources returns the canonical source tags, sorted.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// ListDestinations returns the canonical destination tags, sorted.
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	sort.Strings(destinations)
	return destinations
}

// SourceAliases returns the aliases registered for a canonical source tag.
func (r *Registry) SourceAliases(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return aliasesOf(r.sourceAlias, tag)
}

// DestinationAliases returns the aliases registered for a canonical
// destination tag.
func (r *Registry) DestinationAliases(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return aliasesOf(r.destAlias, tag)
}

func aliasesOf(m map[string]string, tag string) []string {
	var out []string
	for alias, canonical := range m {
		if canonical == tag {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(tag string, factory SourceFactory, aliases ...string) error {
	return globalRegistry.RegisterSource(tag, factory, aliases...)
}

// RegisterDestination registers a destination connector in the global registry
func RegisterDestination(tag string, factory DestinationFactory, aliases ...string) error {
	return globalRegistry.RegisterDestination(tag, factory, aliases...)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
