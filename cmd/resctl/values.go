package main

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/resource"
)

// parseValue converts a command-line value to the logical type of d.
// Array descriptors take a comma separated list.
func parseValue(d resource.Descriptor, raw string) (any, error) {
	if !d.Array {
		return parseScalar(d, raw)
	}
	parts := strings.Split(raw, ",")
	switch d.Kind {
	case resource.KindText:
		return parts, nil
	case resource.KindInteger:
		out := make([]int, len(parts))
		for i, p := range parts {
			v, err := parseScalar(d, p)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: arrays of %s are not supported on the command line", d.ID, d.Kind)
}

func parseScalar(d resource.Descriptor, raw string) (any, error) {
	var (
		v   any
		err error
	)
	switch d.Kind {
	case resource.KindText:
		return raw, nil
	case resource.KindInteger:
		v, err = strconv.Atoi(raw)
	case resource.KindLong:
		v, err = strconv.ParseInt(raw, 10, 64)
	case resource.KindDecimal:
		v, err = strconv.ParseFloat(raw, 64)
	case resource.KindBool:
		v, err = strconv.ParseBool(raw)
	case resource.KindTimestamp:
		v, err = time.Parse(time.RFC3339, raw)
	case resource.KindBytes:
		v, err = base64.StdEncoding.DecodeString(raw)
	default:
		return nil, fmt.Errorf("%s: unsupported kind %s", d.ID, d.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %s value %q: %w", d.ID, d.Kind, raw, err)
	}
	return v, nil
}

// parseSort reads "ID[:asc|:desc],..." into a sort specification.
func parseSort(raw string) (resource.SortSpec, error) {
	var spec resource.SortSpec
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, dir, _ := strings.Cut(part, ":")
		key := resource.SortKey{ID: resource.AttributeID(id)}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			key.Descending = true
		default:
			return nil, fmt.Errorf("sort key %q: direction must be asc or desc", part)
		}
		spec = append(spec, key)
	}
	return spec, nil
}
