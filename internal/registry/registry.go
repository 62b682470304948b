// Package registry is the explicit context object that owns a set of
// schemas and the repositories built from them.
//
// A Registry is constructed by the caller and passed to the components that
// need cross-repository lookup, such as association resolution. Its
// lifecycle is explicit: Init opens and loads a repository per schema,
// Shutdown destroys them and releases their storage.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/repository"
	"github.com/roach88/hatdata/internal/schema"
)

var (
	ErrDuplicateSchema       = errors.New("registry: duplicate schema")
	ErrUnknownSchema         = errors.New("registry: unknown schema")
	ErrRepositoryExists      = errors.New("registry: repository already exists")
	ErrNoAssociation         = errors.New("registry: no such association")
	ErrUnknownRepositoryType = errors.New("registry: unknown repository type")
	ErrShutdown              = errors.New("registry: shut down")
)

// Registry maps schema names to schemas and live repositories.
//
// Thread-safety: All methods are safe for concurrent use. The repositories
// it hands out are not; see package repository.
type Registry struct {
	mu           sync.Mutex
	schemas      map[string]*schema.Schema
	order        []string
	repositories map[string]*repository.Repository

	factory AdapterFactory
	logger  *slog.Logger

	initialized bool
	shutdown    bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithAdapterFactory replaces the medium selection (default:
// DefaultFactory rooted at the working directory).
func WithAdapterFactory(f AdapterFactory) Option {
	return func(r *Registry) {
		r.factory = f
	}
}

// WithDataDir roots the default factory's SQLite files at dir.
func WithDataDir(dir string) Option {
	return func(r *Registry) {
		r.factory = DefaultFactory(dir)
	}
}

// WithLogger sets the logger handed to repositories (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		schemas:      make(map[string]*schema.Schema),
		repositories: make(map[string]*repository.Repository),
		factory:      DefaultFactory("."),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSchema validates and registers s. Names are unique.
func (r *Registry) AddSchema(s *schema.Schema) error {
	if s == nil {
		return &schema.ConfigError{Field: "schema", Message: "schema is required"}
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, s.Name)
	}
	r.schemas[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// LoadSchemas reads and registers YAML schema files in order.
func (r *Registry) LoadSchemas(paths ...string) error {
	for _, p := range paths {
		s, err := schema.LoadFile(p)
		if err != nil {
			return err
		}
		if err := r.AddSchema(s); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Schema returns the schema registered under name.
func (r *Registry) Schema(name string) (*schema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return s, nil
}

// SchemaNames lists registered schemas in registration order.
func (r *Registry) SchemaNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// CreateRepository opens the medium for the named schema and builds its
// repository. Each schema has at most one repository.
func (r *Registry) CreateRepository(ctx context.Context, name string, opts ...repository.Option) (*repository.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(ctx, name, opts...)
}

func (r *Registry) createLocked(ctx context.Context, name string, opts ...repository.Option) (*repository.Repository, error) {
	if r.shutdown {
		return nil, ErrShutdown
	}
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	if _, ok := r.repositories[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryExists, name)
	}

	adapter, err := r.factory(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}
	all := append([]repository.Option{
		repository.WithAdapter(adapter),
		repository.WithLogger(r.logger),
	}, opts...)
	repo, err := repository.New(s, all...)
	if err != nil {
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}
	r.repositories[name] = repo
	r.logger.Debug("repository created", "repository", name, "type", s.Repository.Type)
	return repo, nil
}

// Repository returns the live repository for name, or nil.
func (r *Registry) Repository(name string) *repository.Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repositories[name]
}

// AssociatedRepository resolves an association declared on e's schema to
// the repository of the associated schema, creating it on first use.
func (r *Registry) AssociatedRepository(ctx context.Context, e *entity.Entity, assoc string) (*repository.Repository, error) {
	if !e.Schema().Model.Associations.Has(assoc) {
		return nil, fmt.Errorf("%w: %s has no association %q", ErrNoAssociation, e.Schema().Name, assoc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repositories[assoc]; ok {
		return repo, nil
	}
	return r.createLocked(ctx, assoc)
}

// Init creates a repository for every registered schema that lacks one and
// loads it. Calling Init again is a no-op.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return ErrShutdown
	}
	if r.initialized {
		return nil
	}
	for _, name := range r.order {
		repo, ok := r.repositories[name]
		if !ok {
			var err error
			if repo, err = r.createLocked(ctx, name); err != nil {
				return err
			}
		}
		if repo.IsLoaded() {
			continue
		}
		if err := repo.Load(ctx); err != nil {
			return fmt.Errorf("init %s: %w", name, err)
		}
	}
	r.initialized = true
	r.logger.Info("registry initialized", "schemas", len(r.order))
	return nil
}

// Shutdown destroys every repository, closing its storage. The registry
// cannot be used afterwards.
func (r *Registry) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil
	}
	r.shutdown = true

	var errs []error
	for _, name := range r.order {
		repo, ok := r.repositories[name]
		if !ok {
			continue
		}
		if err := repo.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
		}
		delete(r.repositories, name)
	}
	r.logger.Info("registry shut down")
	return errors.Join(errs...)
}
