package main

import (
	"testing"
	"time"

	"github.com/lychee-technology/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	ts := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		desc    resource.Descriptor
		raw     string
		want    any
		wantErr bool
	}{
		{name: "text", desc: resource.Descriptor{ID: "STATUS", Kind: resource.KindText}, raw: "enabled", want: "enabled"},
		{name: "integer", desc: resource.Descriptor{ID: "PRIORITY", Kind: resource.KindInteger}, raw: "5", want: 5},
		{name: "long", desc: resource.Descriptor{ID: "SIZE", Kind: resource.KindLong}, raw: "9000000000", want: int64(9000000000)},
		{name: "decimal", desc: resource.Descriptor{ID: "RATIO", Kind: resource.KindDecimal}, raw: "0.5", want: 0.5},
		{name: "bool", desc: resource.Descriptor{ID: "HELD", Kind: resource.KindBool}, raw: "true", want: true},
		{name: "timestamp", desc: resource.Descriptor{ID: "STARTED", Kind: resource.KindTimestamp}, raw: "2025-04-02T10:00:00Z", want: ts},
		{name: "bytes", desc: resource.Descriptor{ID: "RAW", Kind: resource.KindBytes}, raw: "AAE=", want: []byte{0, 1}},
		{name: "text array", desc: resource.Descriptor{ID: "GROUPS", Kind: resource.KindText, Array: true}, raw: "A,B", want: []string{"A", "B"}},
		{name: "integer array", desc: resource.Descriptor{ID: "CODES", Kind: resource.KindInteger, Array: true}, raw: "1,2", want: []int{1, 2}},
		{name: "bad integer", desc: resource.Descriptor{ID: "PRIORITY", Kind: resource.KindInteger}, raw: "five", wantErr: true},
		{name: "bad array element", desc: resource.Descriptor{ID: "CODES", Kind: resource.KindInteger, Array: true}, raw: "1,x", wantErr: true},
		{name: "unsupported array", desc: resource.Descriptor{ID: "FLAGS", Kind: resource.KindBool, Array: true}, raw: "true", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.desc, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSort(t *testing.T) {
	spec, err := parseSort("NAME, CREATED:desc,SIZE:ASC")
	require.NoError(t, err)
	assert.Equal(t, resource.SortSpec{
		{ID: "NAME"},
		{ID: "CREATED", Descending: true},
		{ID: "SIZE"},
	}, spec)

	_, err = parseSort("NAME:up")
	assert.Error(t, err)
}
