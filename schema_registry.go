package resource

// MetadataRegistry holds the attribute, selection and sort catalogs of one
// entity kind. Implementations are populated once at startup, frozen, and
// then shared by every resource and list of that kind.
type MetadataRegistry interface {
	// Kind returns the entity kind name.
	Kind() string
	// KeyAttributes returns the natural-key attribute ids that identify an entity.
	KeyAttributes() []AttributeID
	// Register upserts a descriptor keyed by class and id. It fails once frozen.
	Register(d Descriptor) error
	// Freeze makes the registry immutable.
	Freeze()
	// Frozen reports whether Freeze has been called.
	Frozen() bool
	// Lookup returns the descriptor registered under class and id.
	Lookup(class DescriptorClass, id AttributeID) (Descriptor, bool)
	// ValidateID fails with UnknownAttribute when id is not registered.
	ValidateID(class DescriptorClass, id AttributeID) error
	// ValidateValue fails with InvalidValue when value does not fit the descriptor.
	ValidateValue(class DescriptorClass, id AttributeID, value any) error
	// Describe returns the attribute descriptors available at level, sorted by id.
	Describe(level Level) []Descriptor
	// Descriptors returns every descriptor of a class, sorted by id.
	Descriptors(class DescriptorClass) []Descriptor
}

// CatalogRegistry provides lookup of the registries of several entity kinds.
// Implementations can be built in code or loaded from catalog files.
type CatalogRegistry interface {
	// Catalog returns the registry of a kind.
	Catalog(kind string) (MetadataRegistry, error)
	// Add registers the registry of a kind. It fails for duplicate kinds.
	Add(reg MetadataRegistry) error
	// ListKinds returns every registered kind name, sorted.
	ListKinds() []string
}
