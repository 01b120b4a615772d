package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ruteri/artifact-resolver/catalog"
	"github.com/ruteri/artifact-resolver/interfaces"
)

var (
	// ErrDuplicateAlias is returned when an alias is registered twice.
	ErrDuplicateAlias = errors.New("resolver alias already registered")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("resolver registry is sealed")
)

// Registry maps aliases to resolvers. Resolvers are registered at startup;
// after Seal the set is frozen and lookups read it without locking.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]interfaces.LocationResolver
	sealed  atomic.Pointer[map[string]interfaces.LocationResolver]
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		pending: make(map[string]interfaces.LocationResolver),
	}
}

// Register adds a resolver under its alias.
func (r *Registry) Register(resolver interfaces.LocationResolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() != nil {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, resolver.Alias())
	}
	alias := resolver.Alias()
	if _, ok := r.pending[alias]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAlias, alias)
	}
	r.pending[alias] = resolver
	r.log.Debug("registered resolver", slog.String("alias", alias))
	return nil
}

// Seal freezes the registry. Sealing twice is harmless.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() != nil {
		return
	}
	frozen := make(map[string]interfaces.LocationResolver, len(r.pending))
	for alias, resolver := range r.pending {
		frozen[alias] = resolver
	}
	r.sealed.Store(&frozen)
}

// Lookup returns the resolver registered under alias.
func (r *Registry) Lookup(alias string) (interfaces.LocationResolver, error) {
	if frozen := r.sealed.Load(); frozen != nil {
		if resolver, ok := (*frozen)[alias]; ok {
			return resolver, nil
		}
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownResolver, alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if resolver, ok := r.pending[alias]; ok {
		return resolver, nil
	}
	return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownResolver, alias)
}

// Aliases returns the registered aliases, sorted.
func (r *Registry) Aliases() []string {
	resolvers := r.all()
	aliases := make([]string, 0, len(resolvers))
	for alias := range resolvers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Resolvers returns the registered resolvers ordered by alias.
func (r *Registry) Resolvers() []interfaces.LocationResolver {
	resolvers := r.all()
	out := make([]interfaces.LocationResolver, 0, len(resolvers))
	for _, alias := range r.Aliases() {
		out = append(out, resolvers[alias])
	}
	return out
}

func (r *Registry) all() map[string]interfaces.LocationResolver {
	if frozen := r.sealed.Load(); frozen != nil {
		return *frozen
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]interfaces.LocationResolver, len(r.pending))
	for alias, resolver := range r.pending {
		copied[alias] = resolver
	}
	return copied
}

// Validate checks that every repository of the catalog names a registered
// resolver.
func (r *Registry) Validate(c interfaces.StorageCatalog) error {
	var errs []error
	for _, repo := range catalog.Repositories(c) {
		if _, err := r.Lookup(repo.ResolverAlias); err != nil {
			errs = append(errs, fmt.Errorf("repository %s: %w", repo.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Initialize initializes every resolver concurrently.
func (r *Registry) Initialize(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, resolver := range r.Resolvers() {
		g.Go(func() error {
			if err := resolver.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize resolver %s: %w", resolver.Alias(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes resolvers holding external connections.
func (r *Registry) Close() error {
	var errs []error
	for _, resolver := range r.Resolvers() {
		if c, ok := resolver.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", resolver.Alias(), err))
			}
		}
	}
	return errors.Join(errs...)
}
