package internal

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

// ListOptions wires a resource list.
type ListOptions struct {
	Source   resource.ListSource
	Store    StoreOptions
	PageSize int
	Strategy resource.LoadStrategy
	// Identities is shared by every list of the kind when set; otherwise
	// each list builds its own cache of IdentityCacheSize entries.
	Identities        *IdentityCache
	IdentityCacheSize int
}

// loadSession is one load of a list, identified by its generation.
type loadSession struct {
	gen    uint64
	query  resource.Query
	handle resource.ListHandle
	opened bool
	busy   bool
	done   bool
	closed bool
	cancel context.CancelFunc
}

type resourceList struct {
	reg        resource.MetadataRegistry
	opts       ListOptions
	identities *IdentityCache

	mu        sync.Mutex
	selection map[resource.AttributeID]any
	physical  map[resource.AttributeID]any
	sort      resource.SortSpec
	open      bool
	state     resource.ListState
	err       error
	items     []resource.Resource
	gen       uint64
	session   *loadSession
	changed   chan struct{}

	// emitMu serializes event delivery. It is held while listeners run, so
	// a listener calling Open, Close, RefreshContents, WaitFor or
	// WaitForComplete deadlocks; the read accessors take only mu.
	emitMu    sync.Mutex
	listeners listenerSet[resource.ListEvent]
}

var _ resource.ResourceList = (*resourceList)(nil)

// NewResourceList creates a closed list of the registry's kind.
func NewResourceList(reg resource.MetadataRegistry, opts ListOptions) (resource.ResourceList, error) {
	if opts.Source == nil {
		return nil, resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCollaboratorMissing,
			"no list source configured").WithKind(reg.Kind())
	}
	if opts.Strategy == "" {
		opts.Strategy = resource.LoadOnDemand
	}
	identities := opts.Identities
	if identities == nil {
		var err error
		if identities, err = NewIdentityCache(reg.Kind(), opts.IdentityCacheSize); err != nil {
			return nil, err
		}
	} else if identities.Kind() != reg.Kind() {
		return nil, fmt.Errorf("identity cache of kind %q cannot serve kind %q", identities.Kind(), reg.Kind())
	}
	reg.Freeze()
	return &resourceList{
		reg:        reg,
		opts:       opts,
		identities: identities,
		selection:  make(map[resource.AttributeID]any),
		physical:   make(map[resource.AttributeID]any),
		state:      resource.ListClosed,
		changed:    make(chan struct{}),
	}, nil
}

func (l *resourceList) Kind() string { return l.reg.Kind() }

// SetSelection sets a filter criterion for the next load. A nil value
// clears it.
func (l *resourceList) SetSelection(id resource.AttributeID, value any) error {
	if err := l.reg.ValidateID(resource.ClassSelection, id); err != nil {
		return err
	}
	if value == nil {
		l.mu.Lock()
		delete(l.selection, id)
		delete(l.physical, id)
		l.mu.Unlock()
		return nil
	}
	if err := l.reg.ValidateValue(resource.ClassSelection, id, value); err != nil {
		return err
	}
	d, _ := l.reg.Lookup(resource.ClassSelection, id)
	p, err := d.Codec.Encode(value)
	if err != nil {
		return resource.NewInvalidValueError(id, resource.ErrCodeEncodeFailed, err.Error()).
			WithKind(l.reg.Kind()).WithCause(err)
	}
	l.mu.Lock()
	l.selection[id] = value
	l.physical[id] = p
	l.mu.Unlock()
	return nil
}

func (l *resourceList) Selection(id resource.AttributeID) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.selection[id]
	return v, ok
}

func (l *resourceList) SetSort(spec resource.SortSpec) error {
	for _, k := range spec {
		if err := l.reg.ValidateID(resource.ClassSort, k.ID); err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.sort = slices.Clone(spec)
	l.mu.Unlock()
	return nil
}

func (l *resourceList) Sort() resource.SortSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sort)
}

func (l *resourceList) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.open {
		l.mu.Unlock()
		return nil
	}
	l.open = true
	s, old := l.restartLocked()
	l.mu.Unlock()
	return l.started(ctx, s, old)
}

func (l *resourceList) RefreshContents(ctx context.Context) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return l.Open(ctx)
	}
	s, old := l.restartLocked()
	l.mu.Unlock()
	return l.started(ctx, s, old)
}

// restartLocked supersedes the current load with a new one under the
// current criteria. It returns the new session and, when it is idle, the
// superseded session whose handle the caller must close.
func (l *resourceList) restartLocked() (*loadSession, *loadSession) {
	old := l.supersedeLocked()
	l.gen++
	s := &loadSession{
		gen: l.gen,
		query: resource.Query{
			Kind:      l.reg.Kind(),
			Selection: maps.Clone(l.physical),
			Sort:      slices.Clone(l.sort),
			PageSize:  l.opts.PageSize,
		},
	}
	l.session = s
	l.items = nil
	l.err = nil
	l.state = resource.ListLoading
	l.broadcastLocked()
	return s, old
}

// supersedeLocked detaches the current session. The session is returned
// when its handle can be closed right away; a busy session closes its own
// handle when its step finishes.
func (l *resourceList) supersedeLocked() *loadSession {
	old := l.session
	l.session = nil
	if old == nil {
		return nil
	}
	if old.cancel != nil {
		old.cancel()
	}
	if old.busy || old.closed || old.handle == nil {
		return nil
	}
	old.closed = true
	return old
}

func (l *resourceList) started(ctx context.Context, s, old *loadSession) error {
	l.closeHandle(ctx, old)
	l.deliver(s.gen, resource.ListEvent{Type: resource.EventListOpened})
	zap.S().Debugw("list opened", "kind", l.reg.Kind(), "selection", len(s.query.Selection), "sort", len(s.query.Sort))
	if l.opts.Strategy == resource.LoadBackground {
		bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		l.mu.Lock()
		s.cancel = cancel
		l.mu.Unlock()
		go l.runBackground(bgCtx, s)
	}
	return nil
}

func (l *resourceList) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return nil
	}
	old := l.supersedeLocked()
	l.gen++
	gen := l.gen
	l.open = false
	l.state = resource.ListClosed
	l.items = nil
	l.err = nil
	l.broadcastLocked()
	l.mu.Unlock()

	err := l.closeHandle(ctx, old)
	l.deliver(gen, resource.ListEvent{Type: resource.EventListClosed})
	return err
}

func (l *resourceList) closeHandle(ctx context.Context, s *loadSession) error {
	if s == nil {
		return nil
	}
	if err := l.opts.Source.Close(ctx, s.handle); err != nil {
		zap.S().Warnw("failed to close list handle", "kind", l.reg.Kind(), "error", err)
		return remoteError(resource.ErrCodeListQueryFailed, "", err).WithKind(l.reg.Kind())
	}
	return nil
}

func (l *resourceList) runBackground(ctx context.Context, s *loadSession) {
	for {
		l.mu.Lock()
		if l.gen != s.gen || s.done {
			l.mu.Unlock()
			return
		}
		s.busy = true
		l.mu.Unlock()
		l.step(ctx, s)
	}
}

// step performs one remote operation of a load: opening the query or
// fetching the next page. The caller has marked s busy.
func (l *resourceList) step(ctx context.Context, s *loadSession) {
	defer l.finishStep(ctx, s)

	if !s.opened {
		l.deliver(s.gen, resource.ListEvent{Type: resource.EventBusy})
		start := time.Now()
		h, err := l.opts.Source.OpenQuery(ctx, s.query)
		EmitLatency(ctx, "open", l.reg.Kind(), time.Since(start))
		l.deliver(s.gen, resource.ListEvent{Type: resource.EventIdle})

		if err != nil && ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		s.opened = true
		if err == nil {
			s.handle = h
		}
		l.mu.Unlock()
		if err != nil {
			l.fail(ctx, s, remoteError(resource.ErrCodeListQueryFailed, "", err).WithKind(l.reg.Kind()))
		}
		return
	}

	l.deliver(s.gen, resource.ListEvent{Type: resource.EventBusy})
	start := time.Now()
	records, exhausted, err := l.opts.Source.FetchNext(ctx, s.handle)
	EmitLatency(ctx, "page", l.reg.Kind(), time.Since(start))
	l.deliver(s.gen, resource.ListEvent{Type: resource.EventIdle})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.fail(ctx, s, remoteError(resource.ErrCodeListPageFailed, "", err).WithKind(l.reg.Kind()))
		return
	}
	EmitRowCount(ctx, l.reg.Kind(), int64(len(records)))
	l.applyPage(ctx, s, records, exhausted)
}

// finishStep clears the busy flag, wakes waiters and closes the handle of a
// finished or superseded load.
func (l *resourceList) finishStep(ctx context.Context, s *loadSession) {
	l.mu.Lock()
	s.busy = false
	var toClose *loadSession
	if (l.gen != s.gen || s.done) && !s.closed && s.handle != nil {
		s.closed = true
		toClose = s
	}
	l.broadcastLocked()
	l.mu.Unlock()
	_ = l.closeHandle(context.WithoutCancel(ctx), toClose)
}

func (l *resourceList) applyPage(ctx context.Context, s *loadSession, records []resource.Record, exhausted bool) {
	type decodedRecord struct {
		values map[resource.AttributeID]any
		key    uuid.UUID
	}
	decoded := make([]decodedRecord, 0, len(records))
	for _, rec := range records {
		values, err := l.decodeRecord(rec)
		if err != nil {
			l.fail(ctx, s, err)
			return
		}
		key, err := IdentityKey(l.reg.Kind(), l.reg.KeyAttributes(), values)
		if err != nil {
			l.fail(ctx, s, err)
			return
		}
		decoded = append(decoded, decodedRecord{values: values, key: key})
	}

	l.mu.Lock()
	if l.gen != s.gen {
		l.mu.Unlock()
		return
	}
	first := len(l.items)
	for _, d := range decoded {
		l.items = append(l.items, l.materialize(d.key, d.values))
	}
	added := slices.Clone(l.items[first:])
	length := len(l.items)
	if exhausted {
		s.done = true
		l.state = resource.ListComplete
	}
	l.broadcastLocked()
	l.mu.Unlock()

	events := make([]resource.ListEvent, 0, len(added)+2)
	if len(added) > 0 {
		events = append(events, resource.ListEvent{Type: resource.EventLengthChanged, Length: length})
		for i, r := range added {
			events = append(events, resource.ListEvent{Type: resource.EventResourceAdded, Index: first + i, Resource: r, Length: length})
		}
	}
	if exhausted {
		events = append(events, resource.ListEvent{Type: resource.EventListCompleted, Length: length})
		zap.S().Debugw("list complete", "kind", l.reg.Kind(), "length", length)
	}
	l.deliver(s.gen, events...)
}

// materialize returns the instance known under key, refreshed from values,
// or a new one. Called with l.mu held.
func (l *resourceList) materialize(key uuid.UUID, values map[resource.AttributeID]any) resource.Resource {
	if existing, ok := l.identities.Get(key); ok {
		if store, ok := existing.(*attributeStore); ok {
			store.refreshFrom(values)
		}
		return existing
	}
	r := newLoadedStore(l.reg, l.opts.Store, key, values)
	l.identities.Put(key, r)
	return r
}

// decodeRecord decodes every known field of a record. Unknown fields are
// skipped.
func (l *resourceList) decodeRecord(rec resource.Record) (map[resource.AttributeID]any, error) {
	values := make(map[resource.AttributeID]any, len(rec))
	for id, p := range rec {
		d, ok := l.reg.Lookup(resource.ClassAttribute, id)
		if !ok {
			zap.S().Debugw("ignoring unknown record field", "kind", l.reg.Kind(), "field", id)
			continue
		}
		v, err := d.Codec.Decode(p)
		if err != nil {
			return nil, resource.NewRemoteCallError(resource.ErrCodeDecodeFailed, "", err).
				WithKind(l.reg.Kind()).WithDetail("attribute", id)
		}
		values[id] = v
	}
	return values, nil
}

func (l *resourceList) fail(ctx context.Context, s *loadSession, cause error) {
	l.mu.Lock()
	if l.gen != s.gen {
		l.mu.Unlock()
		return
	}
	err := resource.NewListInError(l.reg.Kind(), cause)
	s.done = true
	l.state = resource.ListInError
	l.err = err
	l.broadcastLocked()
	l.mu.Unlock()

	EmitRemoteError(ctx, "list", l.reg.Kind())
	zap.S().Warnw("list loading failed", "kind", l.reg.Kind(), "error", cause)
	l.deliver(s.gen, resource.ListEvent{Type: resource.EventListInError, Err: err})
}

// deliver emits events if gen is still the current generation.
func (l *resourceList) deliver(gen uint64, events ...resource.ListEvent) bool {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	l.mu.Lock()
	current := l.gen == gen
	l.mu.Unlock()
	if !current {
		return false
	}
	for _, e := range events {
		l.listeners.emit(e)
	}
	return true
}

func (l *resourceList) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *resourceList) WaitFor(ctx context.Context, index int) error {
	return l.wait(ctx, func() bool { return index < len(l.items) })
}

func (l *resourceList) WaitForComplete(ctx context.Context) error {
	return l.wait(ctx, func() bool { return false })
}

// wait blocks until ready holds or the load ends. With the on-demand
// strategy the waiting caller drives the load itself. A closed list
// returns immediately.
func (l *resourceList) wait(ctx context.Context, ready func() bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		if !l.open || ready() {
			l.mu.Unlock()
			return nil
		}
		switch l.state {
		case resource.ListComplete:
			l.mu.Unlock()
			return nil
		case resource.ListInError:
			err := l.err
			l.mu.Unlock()
			return err
		}
		s := l.session
		if l.opts.Strategy == resource.LoadOnDemand && s != nil && !s.busy {
			s.busy = true
			l.mu.Unlock()
			l.step(ctx, s)
			continue
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *resourceList) State() resource.ListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *resourceList) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *resourceList) IsComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open && l.state == resource.ListComplete
}

func (l *resourceList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *resourceList) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *resourceList) At(index int) resource.Resource {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return nil
	}
	return l.items[index]
}

func (l *resourceList) IsAvailable(index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return index >= 0 && index < len(l.items)
}

func (l *resourceList) Resources() []resource.Resource {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

func (l *resourceList) AddListener(fn resource.ListListener) func() {
	return l.listeners.add(fn)
}
