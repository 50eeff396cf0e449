package resource

// CatalogDocument is the on-disk form of one entity kind's catalog
// (<kind>_catalog.json).
type CatalogDocument struct {
	Kind          string               `json:"kind"`
	KeyAttributes []AttributeID        `json:"keyAttributes"`
	Attributes    []DescriptorDocument `json:"attributes"`
	Selections    []DescriptorDocument `json:"selections,omitempty"`
	Sorts         []DescriptorDocument `json:"sorts,omitempty"`
}

// DescriptorDocument is the on-disk form of a Descriptor.
type DescriptorDocument struct {
	ID           AttributeID `json:"id"`
	Kind         ValueKind   `json:"kind"`
	ReadOnly     bool        `json:"readOnly,omitempty"`
	Array        bool        `json:"array,omitempty"`
	LegalValues  []any       `json:"legalValues,omitempty"`
	Default      any         `json:"default,omitempty"`
	MinLevel     Level       `json:"minLevel,omitempty"`
	GetOperation OperationID `json:"getOperation,omitempty"`
	SetOperation OperationID `json:"setOperation,omitempty"`
	Codec        *CodecSpec  `json:"codec,omitempty"`
}

// CodecSpec names a codec and its arguments for catalog files.
type CodecSpec struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}
