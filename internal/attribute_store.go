package internal

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

// StoreOptions wires the collaborators of an attribute store.
type StoreOptions struct {
	Getter    resource.AttributeGetter
	Setter    resource.AttributeSetter
	Connector resource.Connector
	// SingleFetch fetches only the requested attribute instead of every
	// uncached attribute sharing its retrieval operation.
	SingleFetch bool
}

// attributeStore is the cache / staged-change / commit protocol of one entity.
type attributeStore struct {
	reg  resource.MetadataRegistry
	opts StoreOptions

	mu        sync.Mutex
	props     map[resource.AttributeID]any
	frozen    bool
	key       uuid.UUID
	keyed     bool
	connected bool
	level     resource.Level
	cache     map[resource.AttributeID]any
	staged    map[resource.AttributeID]any
	order     *OrderedSet[resource.AttributeID]

	// commitMu serializes commits of this entity.
	commitMu  sync.Mutex
	listeners listenerSet[resource.ResourceEvent]
}

var _ resource.Resource = (*attributeStore)(nil)

// NewAttributeStore creates an unconnected resource of the registry's kind.
// The registry is frozen on first use.
func NewAttributeStore(reg resource.MetadataRegistry, opts StoreOptions) resource.Resource {
	reg.Freeze()
	return &attributeStore{
		reg:    reg,
		opts:   opts,
		props:  make(map[resource.AttributeID]any),
		cache:  make(map[resource.AttributeID]any),
		staged: make(map[resource.AttributeID]any),
		order:  NewOrderedSet[resource.AttributeID](),
		level:  resource.LevelAny,
	}
}

// newLoadedStore creates a resource for a list record: identity properties
// are taken from the decoded values and frozen, and the cache is seeded.
func newLoadedStore(reg resource.MetadataRegistry, opts StoreOptions, key uuid.UUID, values map[resource.AttributeID]any) *attributeStore {
	s := NewAttributeStore(reg, opts).(*attributeStore)
	for _, id := range reg.KeyAttributes() {
		s.props[id] = values[id]
	}
	s.frozen = true
	s.key = key
	s.keyed = true
	maps.Copy(s.cache, values)
	return s
}

func (s *attributeStore) Kind() string { return s.reg.Kind() }

func (s *attributeStore) SetProperty(id resource.AttributeID, value any) error {
	if _, ok := s.reg.Lookup(resource.ClassAttribute, id); ok {
		if err := s.reg.ValidateValue(resource.ClassAttribute, id, value); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return resource.NewPropertyFrozenError(id).WithKind(s.reg.Kind())
	}
	s.props[id] = value
	return nil
}

func (s *attributeStore) Property(id resource.AttributeID) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[id]
	return v, ok
}

// Freeze locks the identity properties and computes the identity key.
func (s *attributeStore) Freeze() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.keyLocked()
	return err
}

func (s *attributeStore) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

func (s *attributeStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *attributeStore) Key() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyLocked()
}

func (s *attributeStore) Identity() (resource.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identityLocked()
}

func (s *attributeStore) keyLocked() (uuid.UUID, error) {
	if s.keyed {
		return s.key, nil
	}
	key, err := IdentityKey(s.reg.Kind(), s.reg.KeyAttributes(), s.props)
	if err != nil {
		return uuid.Nil, err
	}
	s.key, s.keyed, s.frozen = key, true, true
	return key, nil
}

func (s *attributeStore) identityLocked() (resource.Identity, error) {
	key, err := s.keyLocked()
	if err != nil {
		return resource.Identity{}, err
	}
	return resource.Identity{Kind: s.reg.Kind(), Key: key, Properties: maps.Clone(s.props)}, nil
}

// connect establishes remote state once and returns the identity and level.
func (s *attributeStore) connect(ctx context.Context) (resource.Identity, resource.Level, error) {
	s.mu.Lock()
	id, err := s.identityLocked()
	connected, level := s.connected, s.level
	s.mu.Unlock()
	if err != nil || connected {
		return id, level, err
	}

	level = resource.LevelAny
	if s.opts.Connector != nil {
		s.emit(resource.ResourceEvent{Type: resource.EventResourceBusy})
		start := time.Now()
		level, err = s.opts.Connector.Connect(ctx, id)
		EmitLatency(ctx, "connect", s.reg.Kind(), time.Since(start))
		s.emit(resource.ResourceEvent{Type: resource.EventResourceIdle})
		if err != nil {
			return id, 0, remoteError(resource.ErrCodeConnectFailed, "", err).WithKind(s.reg.Kind())
		}
	}

	s.mu.Lock()
	s.connected, s.level = true, level
	s.mu.Unlock()
	zap.S().Debugw("resource connected", "resource", id.String(), "level", level)
	return id, level, nil
}

func (s *attributeStore) attribute(id resource.AttributeID) (resource.Descriptor, error) {
	d, ok := s.reg.Lookup(resource.ClassAttribute, id)
	if !ok {
		return d, resource.NewUnknownAttributeError(resource.ClassAttribute, id).WithKind(s.reg.Kind())
	}
	return d, nil
}

func (s *attributeStore) Get(ctx context.Context, id resource.AttributeID) (any, error) {
	return s.get(ctx, id, true)
}

func (s *attributeStore) GetUnchanged(ctx context.Context, id resource.AttributeID) (any, error) {
	return s.get(ctx, id, false)
}

func (s *attributeStore) get(ctx context.Context, id resource.AttributeID, withStaged bool) (any, error) {
	d, err := s.attribute(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if withStaged {
		if v, ok := s.staged[id]; ok {
			s.mu.Unlock()
			return v, nil
		}
	}
	if v, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if v, ok := s.props[id]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	values, err := s.load(ctx, d)
	if err != nil {
		return nil, err
	}
	return values[id], nil
}

// load fetches d and, unless SingleFetch is set, every other uncached
// attribute sharing its retrieval operation, in one call. The cache is only
// modified when the whole batch fetched and decoded.
func (s *attributeStore) load(ctx context.Context, d resource.Descriptor) (map[resource.AttributeID]any, error) {
	identity, level, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if !d.AvailableAt(level) {
		return nil, resource.NewUnsupportedAttributeError(d.ID, d.MinLevel, level).WithKind(s.reg.Kind())
	}
	if s.opts.Getter == nil {
		return nil, resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCollaboratorMissing,
			"no attribute getter configured").WithKind(s.reg.Kind())
	}

	batch := []resource.Descriptor{d}
	if !s.opts.SingleFetch {
		s.mu.Lock()
		for _, other := range s.reg.Describe(level) {
			if other.ID == d.ID || other.GetOperation != d.GetOperation {
				continue
			}
			if _, cached := s.cache[other.ID]; !cached {
				batch = append(batch, other)
			}
		}
		s.mu.Unlock()
	}
	ids := make([]resource.AttributeID, len(batch))
	for i, bd := range batch {
		ids[i] = bd.ID
	}

	s.emit(resource.ResourceEvent{Type: resource.EventResourceBusy, Operation: d.GetOperation})
	start := time.Now()
	physical, err := s.opts.Getter.Fetch(ctx, identity, d.GetOperation, ids)
	EmitLatency(ctx, "fetch", s.reg.Kind(), time.Since(start))
	s.emit(resource.ResourceEvent{Type: resource.EventResourceIdle, Operation: d.GetOperation})
	if err != nil {
		EmitRemoteError(ctx, "fetch", s.reg.Kind())
		return nil, remoteError(resource.ErrCodeFetchFailed, d.GetOperation, err).
			WithKind(s.reg.Kind()).WithDetail("attributes", ids)
	}

	decoded := make(map[resource.AttributeID]any, len(batch))
	for _, bd := range batch {
		p, ok := physical[bd.ID]
		if !ok {
			if pv, isProp := identity.Properties[bd.ID]; isProp {
				decoded[bd.ID] = pv
			} else {
				decoded[bd.ID] = bd.Default
			}
			continue
		}
		v, err := bd.Codec.Decode(p)
		if err != nil {
			return nil, resource.NewRemoteCallError(resource.ErrCodeDecodeFailed, d.GetOperation, err).
				WithKind(s.reg.Kind()).WithDetail("attribute", bd.ID)
		}
		decoded[bd.ID] = v
	}

	s.mu.Lock()
	maps.Copy(s.cache, decoded)
	s.mu.Unlock()
	zap.S().Debugw("attributes fetched", "resource", identity.String(), "operation", d.GetOperation, "count", len(ids))
	return decoded, nil
}

func (s *attributeStore) Set(id resource.AttributeID, value any) error {
	d, err := s.attribute(id)
	if err != nil {
		return err
	}
	if d.ReadOnly {
		return resource.NewReadOnlyError(id).WithKind(s.reg.Kind())
	}
	// Natural-key attributes are identity properties and never staged.
	if slices.Contains(s.reg.KeyAttributes(), id) {
		return s.SetProperty(id, value)
	}
	if err := s.reg.ValidateValue(resource.ClassAttribute, id, value); err != nil {
		return err
	}

	s.mu.Lock()
	if s.connected && !d.AvailableAt(s.level) {
		level := s.level
		s.mu.Unlock()
		return resource.NewUnsupportedAttributeError(id, d.MinLevel, level).WithKind(s.reg.Kind())
	}
	s.staged[id] = value
	s.order.Add(id)
	s.mu.Unlock()

	s.emit(resource.ResourceEvent{Type: resource.EventAttributeChanged, Attribute: id, Value: value})
	return nil
}

type commitGroup struct {
	op       resource.OperationID
	ids      []resource.AttributeID
	logical  []any
	physical []resource.PhysicalValue
}

// Commit applies staged changes, one setter call per set operation, in the
// order each operation was first staged. Every value is encoded before any
// call is issued. A failed call stops the commit; groups applied before it
// stay committed and the failed and remaining groups stay staged.
func (s *attributeStore) Commit(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	pending := s.order.Items()
	values := maps.Clone(s.staged)
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	var groups []*commitGroup
	byOp := make(map[resource.OperationID]*commitGroup)
	for _, id := range pending {
		d, err := s.attribute(id)
		if err != nil {
			return err
		}
		g, ok := byOp[d.SetOperation]
		if !ok {
			g = &commitGroup{op: d.SetOperation}
			byOp[d.SetOperation] = g
			groups = append(groups, g)
		}
		p, err := d.Codec.Encode(values[id])
		if err != nil {
			return resource.NewInvalidValueError(id, resource.ErrCodeEncodeFailed, err.Error()).
				WithKind(s.reg.Kind()).WithCause(err)
		}
		g.ids = append(g.ids, id)
		g.logical = append(g.logical, values[id])
		g.physical = append(g.physical, resource.PhysicalValue{ID: id, Value: p})
	}

	identity, _, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if s.opts.Setter == nil {
		return resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCollaboratorMissing,
			"no attribute setter configured").WithKind(s.reg.Kind())
	}

	for _, g := range groups {
		s.emit(resource.ResourceEvent{Type: resource.EventResourceBusy, Operation: g.op})
		start := time.Now()
		err := s.opts.Setter.Apply(ctx, identity, g.op, g.physical)
		EmitLatency(ctx, "apply", s.reg.Kind(), time.Since(start))
		s.emit(resource.ResourceEvent{Type: resource.EventResourceIdle, Operation: g.op})
		if err != nil {
			EmitRemoteError(ctx, "apply", s.reg.Kind())
			zap.S().Warnw("commit group failed", "resource", identity.String(), "operation", g.op, "error", err)
			return remoteError(resource.ErrCodeApplyFailed, g.op, err).
				WithKind(s.reg.Kind()).WithDetail("attributes", g.ids)
		}
		s.markCommitted(g)
		s.emit(resource.ResourceEvent{Type: resource.EventChangesCommitted, Operation: g.op})
	}
	return nil
}

// markCommitted clears a group's staged entries and caches the value a
// re-read would produce.
func (s *attributeStore) markCommitted(g *commitGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range g.ids {
		if staged, ok := s.staged[id]; ok && valueEqual(staged, g.logical[i]) {
			delete(s.staged, id)
			s.order.Remove(id)
		}
		d, _ := s.reg.Lookup(resource.ClassAttribute, id)
		v, err := d.Codec.Decode(g.physical[i].Value)
		if err != nil {
			delete(s.cache, id)
			zap.S().Debugw("committed value does not decode, dropping cache entry", "attribute", id, "error", err)
			continue
		}
		s.cache[id] = v
	}
}

func (s *attributeStore) Discard() {
	s.mu.Lock()
	had := len(s.staged) > 0
	s.staged = make(map[resource.AttributeID]any)
	s.order.Clear()
	s.mu.Unlock()
	if had {
		s.emit(resource.ResourceEvent{Type: resource.EventChangesDiscarded})
	}
}

func (s *attributeStore) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[resource.AttributeID]any)
	s.mu.Unlock()
}

// Refresh drops the cache and reloads every attribute that was cached.
func (s *attributeStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	ids := MapKeys(s.cache)
	s.cache = make(map[resource.AttributeID]any)
	s.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		s.mu.Lock()
		_, cached := s.cache[id]
		s.mu.Unlock()
		if cached {
			continue
		}
		d, err := s.attribute(id)
		if err != nil {
			return err
		}
		if _, err := s.load(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// refreshFrom replaces the cache with values decoded from a list record.
// Staged changes are kept.
func (s *attributeStore) refreshFrom(values map[resource.AttributeID]any) {
	s.mu.Lock()
	s.cache = maps.Clone(values)
	s.mu.Unlock()
}

func (s *attributeStore) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged) > 0
}

func (s *attributeStore) Pending() []resource.AttributeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Items()
}

func (s *attributeStore) Snapshot() map[resource.AttributeID]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.cache)
}

func (s *attributeStore) AddListener(l resource.ResourceListener) func() {
	return s.listeners.add(l)
}

func (s *attributeStore) emit(e resource.ResourceEvent) {
	s.listeners.emit(e)
}

// IdentityKey derives the stable identity key of an entity from the ordered
// values of its natural-key attributes.
func IdentityKey(kind string, keys []resource.AttributeID, values map[resource.AttributeID]any) (uuid.UUID, error) {
	var b strings.Builder
	for _, id := range keys {
		v, ok := values[id]
		if !ok || v == nil {
			return uuid.Nil, resource.NewPropertyNotSetError(id).WithKind(kind)
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		fmt.Fprintf(&b, "%s=%T:%v\x1f", id, v, v)
	}
	return uuid.NewSHA1(kindNamespace(kind), []byte(b.String())), nil
}

func kindNamespace(kind string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("resource-kind:"+kind))
}

// remoteError wraps a collaborator failure, passing remote-call errors
// raised by guards or decorators through unchanged.
func remoteError(code string, op resource.OperationID, err error) *resource.Error {
	var re *resource.Error
	if errors.As(err, &re) && re.Type == resource.ErrorTypeRemoteCall {
		return re
	}
	return resource.NewRemoteCallError(code, op, err)
}
