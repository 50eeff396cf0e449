package internal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/codec"
	"go.uber.org/zap"
)

// CatalogFileSuffix marks catalog files inside a catalog directory.
const CatalogFileSuffix = "_catalog.json"

const catalogSchema = `{
  "type": "object",
  "required": ["kind", "keyAttributes", "attributes"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "keyAttributes": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "attributes": {"type": "array", "items": {"$ref": "#/$defs/descriptor"}},
    "selections": {"type": "array", "items": {"$ref": "#/$defs/descriptor"}},
    "sorts": {"type": "array", "items": {"$ref": "#/$defs/descriptor"}}
  },
  "$defs": {
    "descriptor": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_.-]*$"},
        "kind": {"enum": ["text", "integer", "long", "decimal", "bool", "timestamp", "bytes"]},
        "readOnly": {"type": "boolean"},
        "array": {"type": "boolean"},
        "legalValues": {"type": "array"},
        "minLevel": {"type": "integer", "minimum": 0},
        "getOperation": {"type": "string"},
        "setOperation": {"type": "string"},
        "codec": {
          "type": "object",
          "required": ["name"],
          "properties": {
            "name": {"type": "string"},
            "args": {"type": "object"}
          }
        }
      }
    }
  }
}`

var resolvedCatalogSchema = mustResolveCatalogSchema()

func mustResolveCatalogSchema() *jsonschema.Resolved {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(catalogSchema), &schema); err != nil {
		panic(fmt.Sprintf("catalog schema: %v", err))
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		panic(fmt.Sprintf("catalog schema: %v", err))
	}
	return resolved
}

// LoadCatalogDirectory loads every <kind>_catalog.json file in dir into a
// catalog registry. Each registry is frozen before it is returned.
func LoadCatalogDirectory(dir string) (resource.CatalogRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), CatalogFileSuffix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCatalogNotFound,
			fmt.Sprintf("no catalog files found in directory: %s", dir))
	}

	catalogs, _ := NewCatalogRegistry()
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
		}
		reg, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("catalog file %s: %w", path, err)
		}
		if want := strings.TrimSuffix(name, CatalogFileSuffix); reg.Kind() != want {
			zap.S().Warnw("catalog kind differs from file name", "file", name, "kind", reg.Kind())
		}
		reg.Freeze()
		if err := catalogs.Add(reg); err != nil {
			return nil, err
		}
		zap.S().Debugw("loaded catalog", "kind", reg.Kind(), "attributes", len(reg.Descriptors(resource.ClassAttribute)))
	}
	return catalogs, nil
}

// ParseCatalog validates one catalog document and builds its registry. The
// returned registry is not frozen.
func ParseCatalog(data []byte) (resource.MetadataRegistry, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, catalogInvalid("failed to parse catalog JSON", err)
	}
	if err := resolvedCatalogSchema.Validate(instance); err != nil {
		return nil, catalogInvalid("catalog does not match schema", err)
	}

	var doc resource.CatalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, catalogInvalid("failed to decode catalog", err)
	}

	reg := NewMetadataRegistry(doc.Kind, doc.KeyAttributes...)
	groups := []struct {
		class resource.DescriptorClass
		docs  []resource.DescriptorDocument
	}{
		{resource.ClassAttribute, doc.Attributes},
		{resource.ClassSelection, doc.Selections},
		{resource.ClassSort, doc.Sorts},
	}
	for _, g := range groups {
		for _, dd := range g.docs {
			d, err := descriptorFromDocument(g.class, dd)
			if err != nil {
				return nil, catalogInvalid(fmt.Sprintf("%s %s", g.class, dd.ID), err).WithKind(doc.Kind)
			}
			if err := reg.Register(d); err != nil {
				return nil, err
			}
		}
	}

	for _, key := range doc.KeyAttributes {
		if _, ok := reg.Lookup(resource.ClassAttribute, key); !ok {
			return nil, catalogInvalid(fmt.Sprintf("key attribute %s is not an attribute", key), nil).WithKind(doc.Kind)
		}
	}
	return reg, nil
}

func descriptorFromDocument(class resource.DescriptorClass, dd resource.DescriptorDocument) (resource.Descriptor, error) {
	c, err := codec.FromSpec(dd.Codec)
	if err != nil {
		return resource.Descriptor{}, err
	}
	legal := make([]any, 0, len(dd.LegalValues))
	for _, v := range dd.LegalValues {
		lv, err := coerceJSONValue(dd.Kind, v)
		if err != nil {
			return resource.Descriptor{}, fmt.Errorf("legal value: %w", err)
		}
		legal = append(legal, lv)
	}
	var def any
	if dd.Default != nil {
		if dd.Array {
			def, err = coerceJSONArray(dd.Kind, dd.Default)
		} else {
			def, err = coerceJSONValue(dd.Kind, dd.Default)
		}
		if err != nil {
			return resource.Descriptor{}, fmt.Errorf("default: %w", err)
		}
	}
	return resource.Descriptor{
		ID:           dd.ID,
		Class:        class,
		Kind:         dd.Kind,
		ReadOnly:     dd.ReadOnly,
		Array:        dd.Array,
		LegalValues:  legal,
		Default:      def,
		MinLevel:     dd.MinLevel,
		GetOperation: dd.GetOperation,
		SetOperation: dd.SetOperation,
		Codec:        c,
	}, nil
}

// coerceJSONValue converts a decoded JSON scalar to the Go type of kind.
func coerceJSONValue(kind resource.ValueKind, v any) (any, error) {
	switch kind {
	case resource.KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case resource.KindInteger:
		if f, ok := v.(float64); ok && f == float64(int(f)) {
			return int(f), nil
		}
	case resource.KindLong:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f), nil
		}
	case resource.KindDecimal:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case resource.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case resource.KindTimestamp:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case resource.KindBytes:
		if s, ok := v.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
	}
	return nil, fmt.Errorf("%v (%T) is not a %s value", v, v, kind)
}

func coerceJSONArray(kind resource.ValueKind, v any) (any, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%v is not an array", v)
	}
	elems := make([]any, 0, len(raw))
	for _, e := range raw {
		ce, err := coerceJSONValue(kind, e)
		if err != nil {
			return nil, err
		}
		elems = append(elems, ce)
	}
	switch kind {
	case resource.KindText:
		return typedSlice[string](elems), nil
	case resource.KindInteger:
		return typedSlice[int](elems), nil
	case resource.KindLong:
		return typedSlice[int64](elems), nil
	case resource.KindDecimal:
		return typedSlice[float64](elems), nil
	case resource.KindBool:
		return typedSlice[bool](elems), nil
	case resource.KindTimestamp:
		return typedSlice[time.Time](elems), nil
	case resource.KindBytes:
		return typedSlice[[]byte](elems), nil
	}
	return nil, fmt.Errorf("unsupported array kind %s", kind)
}

func typedSlice[T any](elems []any) []T {
	out := make([]T, 0, len(elems))
	for _, e := range elems {
		out = append(out, e.(T))
	}
	return out
}

func catalogInvalid(message string, cause error) *resource.Error {
	err := resource.NewError(resource.ErrorTypeInternal, resource.ErrCodeCatalogInvalid, message)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
