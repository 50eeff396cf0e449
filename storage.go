package resource

import (
	"context"

	"github.com/google/uuid"
)

// AttributeGetter retrieves physical attribute values of one entity. Every id
// passed in one call shares the same retrieval operation.
type AttributeGetter interface {
	Fetch(ctx context.Context, id Identity, op OperationID, ids []AttributeID) (map[AttributeID]any, error)
}

// AttributeSetter applies encoded attribute values of one entity, one remote
// call per operation group.
type AttributeSetter interface {
	Apply(ctx context.Context, id Identity, op OperationID, values []PhysicalValue) error
}

// ListSource enumerates physical records page by page.
type ListSource interface {
	OpenQuery(ctx context.Context, q Query) (ListHandle, error)
	FetchNext(ctx context.Context, h ListHandle) (records []Record, exhausted bool, err error)
	Close(ctx context.Context, h ListHandle) error
}

// Connector establishes remote state for an entity and reports the remote
// version level. It is optional.
type Connector interface {
	Connect(ctx context.Context, id Identity) (Level, error)
}

// Resource is a remote entity exposed through typed attributes with a
// read cache and staged changes.
type Resource interface {
	// Kind returns the entity kind.
	Kind() string
	// Key returns the identity key. It fails with PropertyNotSet when a natural
	// key property is missing.
	Key() (uuid.UUID, error)
	// Identity returns the identity passed to collaborators.
	Identity() (Identity, error)

	// SetProperty sets an identity-defining property before the resource is frozen.
	SetProperty(id AttributeID, value any) error
	// Property returns an identity-defining property.
	Property(id AttributeID) (any, bool)
	// Freeze locks identity properties.
	Freeze() error
	// Frozen reports whether identity properties are locked.
	Frozen() bool
	// Connected reports whether remote state has been established.
	Connected() bool

	// Get returns the staged value of id if any, otherwise the cached or fetched value.
	Get(ctx context.Context, id AttributeID) (any, error)
	// GetUnchanged returns the cached or fetched value of id, ignoring staged changes.
	GetUnchanged(ctx context.Context, id AttributeID) (any, error)
	// Set stages a change without any remote effect.
	Set(id AttributeID, value any) error
	// Commit applies staged changes, one remote call per operation group.
	Commit(ctx context.Context) error
	// Discard drops every staged change.
	Discard()
	// Invalidate drops the read cache but keeps staged changes.
	Invalidate()
	// Refresh invalidates the cache and reloads every previously cached group.
	Refresh(ctx context.Context) error

	// HasPendingChanges reports whether any change is staged.
	HasPendingChanges() bool
	// Pending returns the staged attribute ids in staging order.
	Pending() []AttributeID
	// Snapshot returns a copy of the cached values.
	Snapshot() map[AttributeID]any

	// AddListener registers a listener and returns a function removing it.
	AddListener(l ResourceListener) func()
}

// ResourceList enumerates entities matching selection and sort criteria,
// loading them incrementally.
type ResourceList interface {
	Kind() string
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	RefreshContents(ctx context.Context) error

	SetSelection(id AttributeID, value any) error
	Selection(id AttributeID) (any, bool)
	SetSort(spec SortSpec) error
	Sort() SortSpec

	State() ListState
	IsOpen() bool
	IsComplete() bool
	Err() error
	Length() int
	At(index int) Resource
	IsAvailable(index int) bool
	Resources() []Resource
	WaitFor(ctx context.Context, index int) error
	WaitForComplete(ctx context.Context) error

	// AddListener registers a listener and returns a function removing it.
	// Listeners run synchronously, one event at a time, and may read the
	// list (Length, At, IsAvailable, State) but must not call Open, Close,
	// RefreshContents, WaitFor or WaitForComplete.
	AddListener(l ListListener) func()
}
