package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobRegistry(t *testing.T) resource.MetadataRegistry {
	t.Helper()
	reg := NewMetadataRegistry("job", "NAME", "USER", "NUMBER")
	for _, d := range []resource.Descriptor{
		{ID: "NAME", Kind: resource.KindText, ReadOnly: true, GetOperation: "JOBI0100"},
		{ID: "USER", Kind: resource.KindText, ReadOnly: true, GetOperation: "JOBI0100"},
		{ID: "NUMBER", Kind: resource.KindText, ReadOnly: true, GetOperation: "JOBI0100"},
		{ID: "STATUS", Kind: resource.KindText, ReadOnly: true, LegalValues: []any{"ENABLED", "DISABLED"}, GetOperation: "JOBI0100"},
		{ID: "PRIORITY", Kind: resource.KindInteger, GetOperation: "JOBI0200", SetOperation: "CHGJOB", Default: 5},
		{ID: "QUEUE", Kind: resource.KindText, GetOperation: "JOBI0200", SetOperation: "CHGJOB"},
		{ID: "KEYWORDS", Kind: resource.KindText, Array: true, LegalValues: []any{"A", "B"}},
		{ID: "STARTED", Kind: resource.KindTimestamp, MinLevel: 7},
		{ID: "JOB_QUEUE", Class: resource.ClassSelection, Kind: resource.KindText},
		{ID: "NAME", Class: resource.ClassSort, Kind: resource.KindText},
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func TestRegistryRegisterValidatesDescriptors(t *testing.T) {
	reg := NewMetadataRegistry("job")

	tests := []struct {
		name string
		d    resource.Descriptor
	}{
		{"malformed id", resource.Descriptor{ID: "1BAD", Kind: resource.KindText}},
		{"unknown kind", resource.Descriptor{ID: "A", Kind: "money"}},
		{"unknown class", resource.Descriptor{ID: "A", Kind: resource.KindText, Class: "filter"}},
		{"legal value of wrong kind", resource.Descriptor{ID: "A", Kind: resource.KindInteger, LegalValues: []any{"x"}}},
		{"default not legal", resource.Descriptor{ID: "A", Kind: resource.KindText, LegalValues: []any{"x"}, Default: "y"}},
		{"default wrong kind", resource.Descriptor{ID: "A", Kind: resource.KindText, Default: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.d)
			require.Error(t, err)
			var re *resource.Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, resource.ErrCodeInvalidDescriptor, re.Code)
		})
	}
}

func TestRegistryUpsertAndFreeze(t *testing.T) {
	reg := NewMetadataRegistry("job")
	require.NoError(t, reg.Register(resource.Descriptor{ID: "A", Kind: resource.KindText}))
	require.NoError(t, reg.Register(resource.Descriptor{ID: "A", Kind: resource.KindInteger}))

	d, ok := reg.Lookup(resource.ClassAttribute, "A")
	require.True(t, ok)
	assert.Equal(t, resource.KindInteger, d.Kind)
	assert.Equal(t, codec.Identity{}, d.Codec, "nil codec is replaced by identity")
	assert.Len(t, reg.Descriptors(resource.ClassAttribute), 1)

	reg.Freeze()
	assert.True(t, reg.Frozen())
	err := reg.Register(resource.Descriptor{ID: "B", Kind: resource.KindText})
	require.Error(t, err)
	assert.Contains(t, err.Error(), resource.ErrCodeRegistryFrozen)
}

func TestRegistryValidateID(t *testing.T) {
	reg := newJobRegistry(t)

	assert.NoError(t, reg.ValidateID(resource.ClassAttribute, "STATUS"))
	assert.NoError(t, reg.ValidateID(resource.ClassSelection, "JOB_QUEUE"))

	err := reg.ValidateID(resource.ClassAttribute, "JOB_QUEUE")
	assert.True(t, errors.Is(err, resource.ErrUnknownAttribute))
}

// TestRegistryValidateValue checks acceptance iff the type matches and the value is legal
func TestRegistryValidateValue(t *testing.T) {
	reg := newJobRegistry(t)

	tests := []struct {
		name   string
		id     resource.AttributeID
		value  any
		expect string
	}{
		{name: "legal enum", id: "STATUS", value: "ENABLED"},
		{name: "illegal enum", id: "STATUS", value: "PAUSED", expect: resource.ErrCodeIllegalValue},
		{name: "enum wrong type", id: "STATUS", value: 1, expect: resource.ErrCodeTypeMismatch},
		{name: "open integer", id: "PRIORITY", value: 99},
		{name: "integer given int64", id: "PRIORITY", value: int64(1), expect: resource.ErrCodeTypeMismatch},
		{name: "nil", id: "QUEUE", value: nil, expect: resource.ErrCodeTypeMismatch},
		{name: "array", id: "KEYWORDS", value: []string{"A", "B", "A"}},
		{name: "empty array", id: "KEYWORDS", value: []string{}},
		{name: "array illegal element", id: "KEYWORDS", value: []string{"A", "C"}, expect: resource.ErrCodeIllegalValue},
		{name: "array untyped", id: "KEYWORDS", value: []any{"A"}, expect: resource.ErrCodeTypeMismatch},
		{name: "array given scalar", id: "KEYWORDS", value: "A", expect: resource.ErrCodeTypeMismatch},
		{name: "timestamp", id: "STARTED", value: time.Now()},
		{name: "unknown", id: "MISSING", value: "x", expect: resource.ErrCodeUnknownAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateValue(resource.ClassAttribute, tt.id, tt.value)
			if tt.expect == "" {
				assert.NoError(t, err)
				return
			}
			var re *resource.Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.expect, re.Code)
			assert.Equal(t, "job", re.Kind)
		})
	}
}

func TestRegistryDescribeByLevel(t *testing.T) {
	reg := newJobRegistry(t)

	ids := func(ds []resource.Descriptor) []resource.AttributeID {
		out := make([]resource.AttributeID, 0, len(ds))
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	low := ids(reg.Describe(6))
	assert.NotContains(t, low, resource.AttributeID("STARTED"))
	assert.Equal(t, []resource.AttributeID{"KEYWORDS", "NAME", "NUMBER", "PRIORITY", "QUEUE", "STATUS", "USER"}, low)

	assert.Contains(t, ids(reg.Describe(resource.LevelAny)), resource.AttributeID("STARTED"))
	assert.Equal(t, []resource.AttributeID{"NAME"}, ids(reg.Descriptors(resource.ClassSort)))
}

func TestCatalogRegistry(t *testing.T) {
	jobs := NewMetadataRegistry("job", "NAME")
	users := NewMetadataRegistry("user", "NAME")
	catalogs, err := NewCatalogRegistry(users, jobs)
	require.NoError(t, err)

	assert.Equal(t, []string{"job", "user"}, catalogs.ListKinds())

	got, err := catalogs.Catalog("user")
	require.NoError(t, err)
	assert.Same(t, users, got)

	_, err = catalogs.Catalog("printer")
	assert.ErrorContains(t, err, resource.ErrCodeCatalogNotFound)

	assert.Error(t, catalogs.Add(NewMetadataRegistry("job")))
}

const jobCatalog = `{
  "kind": "job",
  "keyAttributes": ["NAME", "NUMBER"],
  "attributes": [
    {"id": "NAME", "kind": "text", "readOnly": true, "getOperation": "JOBI0100"},
    {"id": "NUMBER", "kind": "text", "readOnly": true, "getOperation": "JOBI0100"},
    {"id": "PRIORITY", "kind": "integer", "default": 5, "legalValues": [1, 5, 9],
     "getOperation": "JOBI0200", "setOperation": "CHGJOB",
     "codec": {"name": "integer", "args": {"sentinels": {"NONE": 0}}}},
    {"id": "HELD", "kind": "bool", "codec": {"name": "bool", "args": {"true": "*YES", "false": "*NO"}}},
    {"id": "TAGS", "kind": "long", "array": true, "default": [1, 2]},
    {"id": "STARTED", "kind": "timestamp", "minLevel": 7, "codec": {"name": "timestamp", "args": {"layout": "CYYMMDDHHMMSS"}}}
  ],
  "selections": [{"id": "STATUS", "kind": "text", "legalValues": ["*ACTIVE", "*OUTQ"]}],
  "sorts": [{"id": "NAME", "kind": "text"}]
}`

func TestParseCatalog(t *testing.T) {
	reg, err := ParseCatalog([]byte(jobCatalog))
	require.NoError(t, err)

	assert.Equal(t, "job", reg.Kind())
	assert.Equal(t, []resource.AttributeID{"NAME", "NUMBER"}, reg.KeyAttributes())

	prio, ok := reg.Lookup(resource.ClassAttribute, "PRIORITY")
	require.True(t, ok)
	assert.Equal(t, 5, prio.Default)
	assert.Equal(t, []any{1, 5, 9}, prio.LegalValues)
	p, err := prio.Codec.Encode(0)
	require.NoError(t, err)
	assert.Equal(t, "NONE", p)

	tags, _ := reg.Lookup(resource.ClassAttribute, "TAGS")
	assert.Equal(t, []int64{1, 2}, tags.Default)

	started, _ := reg.Lookup(resource.ClassAttribute, "STARTED")
	assert.Equal(t, resource.Level(7), started.MinLevel)

	assert.NoError(t, reg.ValidateValue(resource.ClassSelection, "STATUS", "*OUTQ"))
	assert.NoError(t, reg.ValidateID(resource.ClassSort, "NAME"))
	assert.False(t, reg.Frozen())
}

func TestParseCatalogRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing attributes", `{"kind": "job", "keyAttributes": ["A"]}`},
		{"bad kind", `{"kind": "job", "keyAttributes": ["A"], "attributes": [{"id": "A", "kind": "money"}]}`},
		{"bad id", `{"kind": "job", "keyAttributes": ["A"], "attributes": [{"id": "9A", "kind": "text"}]}`},
		{"unknown codec", `{"kind": "job", "keyAttributes": ["A"], "attributes": [{"id": "A", "kind": "text", "codec": {"name": "rot13"}}]}`},
		{"fractional integer", `{"kind": "job", "keyAttributes": ["A"], "attributes": [{"id": "A", "kind": "integer", "default": 1.5}]}`},
		{"key not an attribute", `{"kind": "job", "keyAttributes": ["B"], "attributes": [{"id": "A", "kind": "text"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), resource.ErrCodeCatalogInvalid)
		})
	}
}

func TestLoadCatalogDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job_catalog.json"), []byte(jobCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	catalogs, err := LoadCatalogDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, catalogs.ListKinds())

	reg, err := catalogs.Catalog("job")
	require.NoError(t, err)
	assert.True(t, reg.Frozen())

	_, err = LoadCatalogDirectory(t.TempDir())
	assert.ErrorContains(t, err, resource.ErrCodeCatalogNotFound)
}
