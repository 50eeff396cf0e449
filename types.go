package resource

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AttributeID names an attribute, selection or sort descriptor within one entity kind.
type AttributeID string

// OperationID names one backing remote call able to carry several attribute values.
type OperationID string

// Level is the remote system version level used to gate attributes that only
// exist on newer remote systems.
type Level int

// LevelAny is the level assumed when no Connector reports one.
const LevelAny Level = 1<<31 - 1

var attributeIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// Valid reports whether the id is well formed.
func (id AttributeID) Valid() bool {
	return attributeIDPattern.MatchString(string(id))
}

// ValueKind is the logical type of a descriptor.
type ValueKind string

const (
	KindText      ValueKind = "text"      // string
	KindInteger   ValueKind = "integer"   // int
	KindLong      ValueKind = "long"      // int64
	KindDecimal   ValueKind = "decimal"   // float64
	KindBool      ValueKind = "bool"      // bool
	KindTimestamp ValueKind = "timestamp" // time.Time
	KindBytes     ValueKind = "bytes"     // []byte
)

// Valid reports whether k is one of the supported kinds.
func (k ValueKind) Valid() bool {
	switch k {
	case KindText, KindInteger, KindLong, KindDecimal, KindBool, KindTimestamp, KindBytes:
		return true
	}
	return false
}

// Matches reports whether a single (non-array) value has the Go type of the kind.
func (k ValueKind) Matches(v any) bool {
	switch k {
	case KindText:
		_, ok := v.(string)
		return ok
	case KindInteger:
		_, ok := v.(int)
		return ok
	case KindLong:
		_, ok := v.(int64)
		return ok
	case KindDecimal:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTimestamp:
		_, ok := v.(time.Time)
		return ok
	case KindBytes:
		_, ok := v.([]byte)
		return ok
	}
	return false
}

// DescriptorClass selects which catalog of a kind a descriptor belongs to.
type DescriptorClass string

const (
	ClassAttribute DescriptorClass = "attribute"
	ClassSelection DescriptorClass = "selection"
	ClassSort      DescriptorClass = "sort"
)

// Codec translates between the logical value of an attribute and the
// physical value used by the remote system.
type Codec interface {
	Decode(physical any) (any, error)
	Encode(logical any) (any, error)
}

// Descriptor describes one attribute, selection or sort parameter of an entity kind.
type Descriptor struct {
	ID           AttributeID     `json:"id"`
	Class        DescriptorClass `json:"class"`
	Kind         ValueKind       `json:"kind"`
	ReadOnly     bool            `json:"readOnly,omitempty"`
	Array        bool            `json:"array,omitempty"`
	LegalValues  []any           `json:"legalValues,omitempty"`
	Default      any             `json:"default,omitempty"`
	MinLevel     Level           `json:"minLevel,omitempty"`
	GetOperation OperationID     `json:"getOperation,omitempty"`
	SetOperation OperationID     `json:"setOperation,omitempty"`
	Codec        Codec           `json:"-"`
}

// SelectionDescriptor describes a list filter parameter.
type SelectionDescriptor = Descriptor

// SortDescriptor describes a list ordering parameter.
type SortDescriptor = Descriptor

// Closed reports whether the descriptor declares a closed set of legal values.
func (d Descriptor) Closed() bool {
	return len(d.LegalValues) > 0
}

// AvailableAt reports whether the descriptor exists on a remote system at level.
func (d Descriptor) AvailableAt(level Level) bool {
	return d.MinLevel <= level
}

// Identity identifies a remote entity for collaborator calls.
type Identity struct {
	Kind       string
	Key        uuid.UUID
	Properties map[AttributeID]any
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.Kind, i.Key)
}

// PhysicalValue is one encoded attribute value passed to an AttributeSetter.
type PhysicalValue struct {
	ID    AttributeID
	Value any
}

// Record is one physical record produced by a ListSource, keyed by attribute id.
type Record map[AttributeID]any

// SortKey is one element of a sort specification.
type SortKey struct {
	ID         AttributeID `json:"id"`
	Descending bool        `json:"descending,omitempty"`
}

// SortSpec is an ordered list of sort keys requested of the list source.
type SortSpec []SortKey

// Query is the criteria snapshot forwarded to a ListSource when a list opens.
// Selection values are physical (already encoded).
type Query struct {
	Kind      string
	Selection map[AttributeID]any
	Sort      SortSpec
	PageSize  int
}

// ListHandle is an opaque cursor returned by ListSource.OpenQuery.
type ListHandle any

// ListState is the lifecycle state of a ResourceList.
type ListState string

const (
	ListClosed   ListState = "closed"
	ListLoading  ListState = "loading"
	ListComplete ListState = "complete"
	ListInError  ListState = "in_error"
)

// ListEventType enumerates list events.
type ListEventType string

const (
	EventListOpened    ListEventType = "list_opened"
	EventLengthChanged ListEventType = "length_changed"
	EventResourceAdded ListEventType = "resource_added"
	EventListCompleted ListEventType = "list_completed"
	EventListInError   ListEventType = "list_in_error"
	EventListClosed    ListEventType = "list_closed"
	EventBusy          ListEventType = "busy"
	EventIdle          ListEventType = "idle"
)

// ListEvent is delivered synchronously to list listeners in issuing order.
type ListEvent struct {
	Type     ListEventType
	Length   int
	Index    int
	Resource Resource
	Err      error
}

// ListListener receives list events.
type ListListener func(ListEvent)

// ResourceEventType enumerates per-entity events.
type ResourceEventType string

const (
	EventAttributeChanged ResourceEventType = "attribute_changed"
	EventChangesCommitted ResourceEventType = "changes_committed"
	EventChangesDiscarded ResourceEventType = "changes_discarded"
	EventResourceBusy     ResourceEventType = "busy"
	EventResourceIdle     ResourceEventType = "idle"
)

// ResourceEvent is delivered synchronously to resource listeners.
type ResourceEvent struct {
	Type      ResourceEventType
	Attribute AttributeID
	Value     any
	Operation OperationID
}

// ResourceListener receives resource events.
type ResourceListener func(ResourceEvent)
