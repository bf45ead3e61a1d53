package handler

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// constructor builds a handler from a validated config.
type constructor func(cfg Config, f *Factory) (Handler, error)

// Factory creates handlers from connection configs. Constructors are looked
// up lazily on first use for a kind, so a backend whose driver cannot
// initialise never affects startup or the other kinds.
type Factory struct {
	// HTTPTimeout caps each upstream call made by API-backed handlers.
	HTTPTimeout time.Duration

	mu    sync.Mutex
	ctors map[Kind]constructor
}

// NewFactory creates a factory. httpTimeout <= 0 falls back to 30s.
func NewFactory(httpTimeout time.Duration) *Factory {
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	return &Factory{HTTPTimeout: httpTimeout}
}

// SupportedKinds returns the kinds Make can construct, sorted.
func (f *Factory) SupportedKinds() []Kind {
	f.ensureConstructors()
	kinds := make([]Kind, 0, len(f.ctors))
	for k := range f.ctors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Installed reports whether Make can construct the kind.
func (f *Factory) Installed(kind Kind) bool {
	f.ensureConstructors()
	_, ok := f.ctors[kind]
	return ok
}

// Describe returns the recognised config fields for a kind. Kinds without an
// installed handler are still described so the UI can offer them.
func (f *Factory) Describe(kind Kind) ([]FieldSpec, error) {
	fields, ok := fieldSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	out := make([]FieldSpec, len(fields))
	copy(out, fields)
	return out, nil
}

// DescribeAll returns every known kind's field schema keyed by kind.
func (f *Factory) DescribeAll() map[Kind][]FieldSpec {
	out := make(map[Kind][]FieldSpec, len(fieldSchemas))
	for kind := range fieldSchemas {
		fields, _ := f.Describe(kind)
		out[kind] = fields
	}
	return out
}

// Validate checks a config against its kind's field schema. Required fields
// that declare a default (ports, modes) are satisfied by the default; all
// other required fields must be present and non-empty.
func (f *Factory) Validate(cfg Config) error {
	fields, ok := fieldSchemas[cfg.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}

	var missing []string
	for _, field := range fields {
		if field.Required && field.Default == nil && !cfg.HasOption(field.Name) {
			missing = append(missing, field.Name)
		}
		if len(field.Options) > 0 && cfg.HasOption(field.Name) {
			value := cfg.StringOption(field.Name, "")
			if !containsString(field.Options, value) {
				return &ConfigError{
					Kind:   cfg.Kind,
					Fields: []string{field.Name},
					Err:    fmt.Errorf("%w: %s must be one of %v", ErrConfigInvalid, field.Name, field.Options),
				}
			}
		}
	}
	if len(missing) > 0 {
		return newConfigError(cfg.Kind, missing...)
	}
	return nil
}

// Make validates the config and constructs a handler for its kind.
func (f *Factory) Make(cfg Config) (Handler, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}
	f.ensureConstructors()
	ctor, ok := f.ctors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	return ctor(cfg, f)
}

// ensureConstructors populates the constructor table on first use.
func (f *Factory) ensureConstructors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctors != nil {
		return
	}
	f.ctors = map[Kind]constructor{
		KindMySQL:       newMySQLHandler,
		KindPostgreSQL:  newPostgreSQLHandler,
		KindSQLite:      newSQLiteHandler,
		KindMongoDB:     newMongoDBHandler,
		KindKOSISAPI:    newKOSISHandler,
		KindExternalAPI: newExternalAPIHandler,
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
