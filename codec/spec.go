package codec

import (
	"fmt"
	"sort"
	"time"

	"github.com/lychee-technology/resource"
)

// FromSpec builds a codec from its catalog-file form. Args are decoded JSON
// values, so numbers arrive as float64.
//
// Supported names: identity, text, bool, integer, long, timestamp,
// qualified-name, flags, substring, mapping, array.
func FromSpec(spec *resource.CodecSpec) (resource.Codec, error) {
	if spec == nil {
		return Identity{}, nil
	}
	args := specArgs(spec.Args)

	switch spec.Name {
	case "", "identity":
		return Identity{}, nil

	case "text":
		return Text{Width: args.int("width"), Upper: args.bool("upper")}, nil

	case "bool":
		t, f := args.string("true"), args.string("false")
		if t == "" {
			return nil, fmt.Errorf("bool codec requires a 'true' token")
		}
		return Bool{True: t, False: f}, nil

	case "integer":
		c := Int{Format: args.integerFormat(), Width: args.int("width")}
		for _, phys := range args.sortedKeys("sentinels") {
			c.Sentinels = append(c.Sentinels, Sentinel[int]{Logical: args.nestedInt("sentinels", phys), Physical: phys})
		}
		return c, nil

	case "long":
		c := Int64{Format: args.integerFormat(), Width: args.int("width")}
		for _, phys := range args.sortedKeys("sentinels") {
			c.Sentinels = append(c.Sentinels, Sentinel[int64]{Logical: int64(args.nestedInt("sentinels", phys)), Physical: phys})
		}
		return c, nil

	case "timestamp":
		layout := TimestampLayout(args.string("layout"))
		if _, ok := timestampFormats[layout]; !ok {
			return nil, fmt.Errorf("unknown timestamp layout %q", layout)
		}
		c := Timestamp{Layout: layout}
		if tz := args.string("location"); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("timestamp location: %w", err)
			}
			c.Location = loc
		}
		return c, nil

	case "qualified-name":
		c := QualifiedName{ObjectType: args.string("objectType"), Width: args.int("width")}
		if args.string("order") == "library-first" {
			c.Order = LibraryFirst
		}
		if c.ObjectType == "" {
			return nil, fmt.Errorf("qualified-name codec requires an objectType")
		}
		return c, nil

	case "flags":
		c := Flags{Options: args.strings("options")}
		if on := args.string("on"); on != "" {
			c.On = on[0]
		}
		if off := args.string("off"); off != "" {
			c.Off = off[0]
		}
		if len(c.Options) == 0 {
			return nil, fmt.Errorf("flags codec requires options")
		}
		return c, nil

	case "substring":
		innerSpec, err := args.spec("inner")
		if err != nil {
			return nil, err
		}
		in, err := FromSpec(innerSpec)
		if err != nil {
			return nil, fmt.Errorf("substring inner: %w", err)
		}
		c := Substring{Offset: args.int("offset"), Length: args.int("length"), Trim: args.bool("trim"), Inner: in}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return c, nil

	case "mapping":
		c := Mapping{Passthrough: args.bool("passthrough")}
		for _, logical := range args.sortedKeys("pairs") {
			c.Pairs = append(c.Pairs, Pair{Logical: logical, Physical: args.nestedString("pairs", logical)})
		}
		return c, nil

	case "array":
		elemSpec, err := args.spec("element")
		if err != nil {
			return nil, err
		}
		el, err := FromSpec(elemSpec)
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		switch resource.ValueKind(args.string("of")) {
		case resource.KindText, "":
			return Array[string]{Element: el}, nil
		case resource.KindInteger:
			return Array[int]{Element: el}, nil
		case resource.KindLong:
			return Array[int64]{Element: el}, nil
		case resource.KindBool:
			return Array[bool]{Element: el}, nil
		case resource.KindTimestamp:
			return Array[time.Time]{Element: el}, nil
		default:
			return nil, fmt.Errorf("unsupported array element kind %q", args.string("of"))
		}
	}

	return nil, fmt.Errorf("unknown codec %q", spec.Name)
}

type specArgs map[string]any

func (a specArgs) string(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a specArgs) int(key string) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (a specArgs) bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a specArgs) strings(key string) []string {
	raw, _ := a[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a specArgs) sortedKeys(key string) []string {
	m, _ := a[key].(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a specArgs) nestedInt(key, sub string) int {
	m, _ := a[key].(map[string]any)
	return specArgs(m).int(sub)
}

func (a specArgs) nestedString(key, sub string) string {
	m, _ := a[key].(map[string]any)
	return specArgs(m).string(sub)
}

func (a specArgs) integerFormat() IntegerFormat {
	if a.string("format") == "binary" {
		return IntegerBinary
	}
	return IntegerText
}

func (a specArgs) spec(key string) (*resource.CodecSpec, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a codec object", key)
	}
	name, _ := m["name"].(string)
	args, _ := m["args"].(map[string]any)
	return &resource.CodecSpec{Name: name, Args: args}, nil
}
