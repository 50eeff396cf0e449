package internal

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/codec"
)

type descriptorKey struct {
	class resource.DescriptorClass
	id    resource.AttributeID
}

// metadataRegistry holds the descriptor catalogs of one entity kind.
type metadataRegistry struct {
	mu          sync.RWMutex
	kind        string
	keys        []resource.AttributeID
	descriptors map[descriptorKey]resource.Descriptor
	frozen      bool
}

// NewMetadataRegistry creates an empty registry for kind. keys are the
// natural-key attribute ids, in the order they feed the identity key.
func NewMetadataRegistry(kind string, keys ...resource.AttributeID) resource.MetadataRegistry {
	return &metadataRegistry{
		kind:        kind,
		keys:        append([]resource.AttributeID(nil), keys...),
		descriptors: make(map[descriptorKey]resource.Descriptor),
	}
}

func (r *metadataRegistry) Kind() string { return r.kind }

func (r *metadataRegistry) KeyAttributes() []resource.AttributeID {
	return append([]resource.AttributeID(nil), r.keys...)
}

func (r *metadataRegistry) Register(d resource.Descriptor) error {
	if d.Class == "" {
		d.Class = resource.ClassAttribute
	}
	if err := validateDescriptor(d); err != nil {
		return err.WithKind(r.kind)
	}
	if d.Codec == nil {
		d.Codec = codec.Identity{}
	}
	d.LegalValues = append([]any(nil), d.LegalValues...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeRegistryFrozen,
			"registry is frozen").WithKind(r.kind)
	}
	r.descriptors[descriptorKey{d.Class, d.ID}] = d
	return nil
}

func (r *metadataRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *metadataRegistry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *metadataRegistry) Lookup(class resource.DescriptorClass, id resource.AttributeID) (resource.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[descriptorKey{class, id}]
	return d, ok
}

func (r *metadataRegistry) ValidateID(class resource.DescriptorClass, id resource.AttributeID) error {
	if _, ok := r.Lookup(class, id); !ok {
		return resource.NewUnknownAttributeError(class, id).WithKind(r.kind)
	}
	return nil
}

func (r *metadataRegistry) ValidateValue(class resource.DescriptorClass, id resource.AttributeID, value any) error {
	d, ok := r.Lookup(class, id)
	if !ok {
		return resource.NewUnknownAttributeError(class, id).WithKind(r.kind)
	}
	if err := checkValue(d, value); err != nil {
		return err.WithKind(r.kind)
	}
	return nil
}

func (r *metadataRegistry) Describe(level resource.Level) []resource.Descriptor {
	all := r.Descriptors(resource.ClassAttribute)
	out := all[:0]
	for _, d := range all {
		if d.AvailableAt(level) {
			out = append(out, d)
		}
	}
	return out
}

func (r *metadataRegistry) Descriptors(class resource.DescriptorClass) []resource.Descriptor {
	r.mu.RLock()
	out := make([]resource.Descriptor, 0, len(r.descriptors))
	for k, d := range r.descriptors {
		if k.class == class {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validateDescriptor(d resource.Descriptor) *resource.Error {
	invalid := func(format string, args ...any) *resource.Error {
		return resource.NewInvalidValueError(d.ID, resource.ErrCodeInvalidDescriptor, fmt.Sprintf(format, args...))
	}
	if !d.ID.Valid() {
		return invalid("malformed id %q", d.ID)
	}
	switch d.Class {
	case resource.ClassAttribute, resource.ClassSelection, resource.ClassSort:
	default:
		return invalid("unknown descriptor class %q", d.Class)
	}
	if !d.Kind.Valid() {
		return invalid("unknown value kind %q", d.Kind)
	}
	for _, v := range d.LegalValues {
		if !d.Kind.Matches(v) {
			return invalid("legal value %v is not of kind %s", v, d.Kind)
		}
	}
	if d.Default != nil {
		if err := checkValue(d, d.Default); err != nil {
			return invalid("default: %s", err.Message)
		}
	}
	return nil
}

// checkValue validates value against the descriptor's kind, array-ness and
// legal values.
func checkValue(d resource.Descriptor, value any) *resource.Error {
	if value == nil {
		return resource.NewInvalidValueError(d.ID, resource.ErrCodeTypeMismatch,
			fmt.Sprintf("nil is not a %s value", d.Kind))
	}
	if !d.Array {
		if !d.Kind.Matches(value) {
			return resource.NewInvalidValueError(d.ID, resource.ErrCodeTypeMismatch,
				fmt.Sprintf("expected %s, got %T", d.Kind, value)).WithDetail("expected_kind", d.Kind)
		}
		if d.Closed() && !legalContains(d.LegalValues, value) {
			return resource.NewInvalidValueError(d.ID, resource.ErrCodeIllegalValue,
				fmt.Sprintf("%v is not a legal value", value)).WithDetail("legal_values", d.LegalValues)
		}
		return nil
	}

	rv := reflect.ValueOf(value)
	if want := reflect.SliceOf(kindType(d.Kind)); rv.Type() != want {
		return resource.NewInvalidValueError(d.ID, resource.ErrCodeTypeMismatch,
			fmt.Sprintf("expected %s, got %T", want, value)).WithDetail("expected_kind", d.Kind)
	}
	for i := 0; i < rv.Len(); i++ {
		el := rv.Index(i).Interface()
		if d.Closed() && !legalContains(d.LegalValues, el) {
			return resource.NewInvalidValueError(d.ID, resource.ErrCodeIllegalValue,
				fmt.Sprintf("element %d: %v is not a legal value", i, el)).WithDetail("legal_values", d.LegalValues)
		}
	}
	return nil
}

var (
	typeString  = reflect.TypeOf("")
	typeInt     = reflect.TypeOf(0)
	typeInt64   = reflect.TypeOf(int64(0))
	typeFloat64 = reflect.TypeOf(float64(0))
	typeBool    = reflect.TypeOf(false)
	typeTime    = reflect.TypeOf(time.Time{})
	typeBytes   = reflect.TypeOf([]byte(nil))
)

func kindType(k resource.ValueKind) reflect.Type {
	switch k {
	case resource.KindInteger:
		return typeInt
	case resource.KindLong:
		return typeInt64
	case resource.KindDecimal:
		return typeFloat64
	case resource.KindBool:
		return typeBool
	case resource.KindTimestamp:
		return typeTime
	case resource.KindBytes:
		return typeBytes
	}
	return typeString
}

func legalContains(legal []any, v any) bool {
	for _, l := range legal {
		if valueEqual(l, v) {
			return true
		}
	}
	return false
}

// valueEqual compares logical values; timestamps compare by instant.
func valueEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// catalogRegistry is the in-memory set of per-kind registries.
type catalogRegistry struct {
	mu    sync.RWMutex
	kinds map[string]resource.MetadataRegistry
}

// NewCatalogRegistry creates a catalog registry holding regs.
func NewCatalogRegistry(regs ...resource.MetadataRegistry) (resource.CatalogRegistry, error) {
	c := &catalogRegistry{kinds: make(map[string]resource.MetadataRegistry, len(regs))}
	for _, reg := range regs {
		if err := c.Add(reg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *catalogRegistry) Add(reg resource.MetadataRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.kinds[reg.Kind()]; exists {
		return resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCatalogInvalid,
			"duplicate catalog").WithKind(reg.Kind())
	}
	c.kinds[reg.Kind()] = reg
	return nil
}

func (c *catalogRegistry) Catalog(kind string) (resource.MetadataRegistry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.kinds[kind]
	if !ok {
		return nil, resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCatalogNotFound,
			"catalog not found").WithKind(kind)
	}
	return reg, nil
}

func (c *catalogRegistry) ListKinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := MapKeys(c.kinds)
	sort.Strings(kinds)
	return kinds
}
