package factory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/internal"
	"go.uber.org/zap"
)

// Collaborators are the remote parties serving one entity kind. Any of them
// may be nil; a nil Source means lists of the kind cannot be opened.
type Collaborators struct {
	Getter    resource.AttributeGetter
	Setter    resource.AttributeSetter
	Source    resource.ListSource
	Connector resource.Connector
}

// Engine creates resources and lists of the kinds in a catalog registry,
// wired to the collaborators registered per kind.
//
// Usage:
//
//	cfg, err := factory.LoadConfig("")
//	catalogs, err := factory.NewCatalogRegistry(cfg)
//	engine := factory.NewEngine(catalogs, cfg)
//	defer engine.Close()
//	pool, err := factory.NewPostgresPool(ctx, cfg.Postgres)
//	err = factory.RegisterPostgres(engine, pool, cfg.Postgres)
//	list, err := engine.NewResourceList("user")
type Engine struct {
	config   *resource.Config
	catalogs resource.CatalogRegistry
	cache    *internal.RedisAttributeCache

	mu         sync.Mutex
	collabs    map[string]Collaborators
	identities map[string]*internal.IdentityCache
	closers    []func() error
}

// NewEngine creates an engine without collaborators. A nil config uses
// resource.DefaultConfig.
func NewEngine(catalogs resource.CatalogRegistry, config *resource.Config) *Engine {
	if config == nil {
		config = resource.DefaultConfig()
	}
	return &Engine{
		config:     config,
		catalogs:   catalogs,
		collabs:    make(map[string]Collaborators),
		identities: make(map[string]*internal.IdentityCache),
	}
}

// NewCatalogRegistry loads every catalog file of config.Catalog.Directory.
func NewCatalogRegistry(config *resource.Config) (resource.CatalogRegistry, error) {
	if config.Catalog.Directory == "" {
		return nil, &resource.ConfigError{Field: "catalog.directory", Message: "required"}
	}
	return internal.LoadCatalogDirectory(config.Catalog.Directory)
}

// Config returns the engine configuration.
func (e *Engine) Config() *resource.Config { return e.config }

// Catalogs returns the catalog registry.
func (e *Engine) Catalogs() resource.CatalogRegistry { return e.catalogs }

// UseCache fronts every getter registered afterwards with cache and makes
// setters invalidate it.
func (e *Engine) UseCache(cache *internal.RedisAttributeCache) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = cache
}

// AddCloser registers fn to run on Close, in reverse registration order.
func (e *Engine) AddCloser(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closers = append(e.closers, fn)
}

// Register wires collaborators to a kind of the catalog registry. Each
// collaborator is guarded by a circuit breaker named after the kind when
// breakers are enabled.
func (e *Engine) Register(kind string, c Collaborators) error {
	if _, err := e.catalogs.Catalog(kind); err != nil {
		return err
	}
	guard := internal.NewGuardFromConfig(kind, e.config.Remote)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.collabs[kind]; dup {
		return fmt.Errorf("collaborators of kind %q already registered", kind)
	}
	wired := Collaborators{
		Getter:    internal.GuardGetter(c.Getter, guard),
		Setter:    internal.GuardSetter(c.Setter, guard),
		Source:    internal.GuardSource(c.Source, guard),
		Connector: internal.GuardConnector(c.Connector, guard),
	}
	if e.cache != nil {
		if wired.Getter != nil {
			wired.Getter = e.cache.Getter(wired.Getter)
		}
		if wired.Setter != nil {
			wired.Setter = e.cache.Setter(wired.Setter)
		}
	}
	e.collabs[kind] = wired
	zap.S().Infow("collaborators registered", "kind", kind,
		"getter", c.Getter != nil, "setter", c.Setter != nil, "source", c.Source != nil,
		"breaker", guard != nil, "cache", e.cache != nil)
	return nil
}

// catalogFold finds the registry of kind ignoring case, since configuration
// loaders lowercase map keys.
func (e *Engine) catalogFold(kind string) (resource.MetadataRegistry, error) {
	for _, k := range e.catalogs.ListKinds() {
		if strings.EqualFold(k, kind) {
			return e.catalogs.Catalog(k)
		}
	}
	return e.catalogs.Catalog(kind)
}

func (e *Engine) lookup(kind string) (resource.MetadataRegistry, Collaborators, error) {
	reg, err := e.catalogs.Catalog(kind)
	if err != nil {
		return nil, Collaborators{}, err
	}
	e.mu.Lock()
	c, ok := e.collabs[kind]
	e.mu.Unlock()
	if !ok {
		return nil, Collaborators{}, resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCollaboratorMissing,
			"no collaborators registered").WithKind(kind)
	}
	return reg, c, nil
}

func (e *Engine) storeOptions(c Collaborators) internal.StoreOptions {
	return internal.StoreOptions{
		Getter:      c.Getter,
		Setter:      c.Setter,
		Connector:   c.Connector,
		SingleFetch: !e.config.Store.BatchGroupFetch,
	}
}

// NewResource creates an unbound resource of kind. Set its natural-key
// properties before reading attributes.
func (e *Engine) NewResource(kind string) (resource.Resource, error) {
	reg, c, err := e.lookup(kind)
	if err != nil {
		return nil, err
	}
	return internal.NewAttributeStore(reg, e.storeOptions(c)), nil
}

// NewResourceList creates a closed list of kind.
func (e *Engine) NewResourceList(kind string) (resource.ResourceList, error) {
	reg, c, err := e.lookup(kind)
	if err != nil {
		return nil, err
	}
	opts := internal.ListOptions{
		Source:            c.Source,
		Store:             e.storeOptions(c),
		PageSize:          e.config.List.PageSize,
		Strategy:          e.config.List.Strategy,
		IdentityCacheSize: e.config.List.IdentityCacheSize,
	}
	if e.config.List.ShareIdentities {
		if opts.Identities, err = e.sharedIdentities(kind); err != nil {
			return nil, err
		}
	}
	return internal.NewResourceList(reg, opts)
}

func (e *Engine) sharedIdentities(kind string) (*internal.IdentityCache, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.identities[kind]; ok {
		return c, nil
	}
	c, err := NewIdentityCache(kind, e.config.List.IdentityCacheSize)
	if err != nil {
		return nil, err
	}
	e.identities[kind] = c
	return c, nil
}

// NewIdentityCache creates a bounded identity cache that lists of one kind
// can share.
func NewIdentityCache(kind string, size int) (*internal.IdentityCache, error) {
	return internal.NewIdentityCache(kind, size)
}

// Close runs the registered closers and returns their joined errors.
func (e *Engine) Close() error {
	e.mu.Lock()
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// canonicalMapping rewrites the attribute ids of a table mapping to the ids
// registered for the kind. Configuration loaders lowercase map keys, so ids
// are matched case-insensitively.
func canonicalMapping(reg resource.MetadataRegistry, m resource.TableMapping) (resource.TableMapping, error) {
	attrs := reg.Descriptors(resource.ClassAttribute)
	resolve := func(id string) (string, error) {
		for _, d := range attrs {
			if strings.EqualFold(string(d.ID), id) {
				return string(d.ID), nil
			}
		}
		return "", resource.NewUnknownAttributeError(resource.ClassAttribute, resource.AttributeID(id)).
			WithKind(reg.Kind()).
			WithDetail("table", m.Table)
	}

	out := resource.TableMapping{
		Table:      m.Table,
		KeyColumns: make(map[string]string, len(m.KeyColumns)),
		Columns:    make(map[string]string, len(m.Columns)),
	}
	for id, col := range m.KeyColumns {
		canon, err := resolve(id)
		if err != nil {
			return resource.TableMapping{}, err
		}
		out.KeyColumns[canon] = col
	}
	for id, col := range m.Columns {
		canon, err := resolve(id)
		if err != nil {
			return resource.TableMapping{}, err
		}
		out.Columns[canon] = col
	}
	return out, nil
}
