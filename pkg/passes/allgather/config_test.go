// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		want    Config
		wantErr bool
	}{
		{"empty", "", DefaultConfig(), false},
		{"size with binary unit", "size=1MiB", Config{SizeThreshold: oneMiB, CountThreshold: DefaultCountThreshold}, false},
		{"size with decimal unit", "size=30MB", Config{SizeThreshold: 30_000_000, CountThreshold: DefaultCountThreshold}, false},
		{"plain bytes and count", "size=4096,count=16", Config{SizeThreshold: 4096, CountThreshold: 16}, false},
		{"spaces", " size = 2KiB , count = 3 ", Config{SizeThreshold: 2048, CountThreshold: 3}, false},
		{"only count", "count=8", Config{SizeThreshold: DefaultSizeThreshold, CountThreshold: 8}, false},
		{"invalid size", "size=lots", Config{}, true},
		{"invalid count", "count=many", Config{}, true},
		{"zero count", "count=0", Config{}, true},
		{"zero size", "size=0", Config{}, true},
		{"unknown key", "speed=1", Config{}, true},
		{"missing value", "size", Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigString(t *testing.T) {
	tests := []struct {
		config Config
		want   string
	}{
		{DefaultConfig(), "size=30MiB,count=256"},
		{Config{SizeThreshold: 256, CountThreshold: 2}, "size=256B,count=2"},
		{Config{SizeThreshold: 1536, CountThreshold: 1}, "size=1.5KiB,count=1"},
		{Config{SizeThreshold: 1500, CountThreshold: 1}, "size=1500,count=1"},
		{Config{SizeThreshold: 1_000_000, CountThreshold: 8}, "size=1000000,count=8"},
		{Config{SizeThreshold: oneMiB + 1, CountThreshold: 8}, "size=1048577,count=8"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.String())
			parsed, err := ParseConfig(tt.config.String())
			require.NoError(t, err)
			assert.Equal(t, tt.config, parsed)
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(AGCOMBINER_CONFIG, "size=1MiB,count=4")
	combiner, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{SizeThreshold: oneMiB, CountThreshold: 4}, combiner.Config())

	t.Setenv(AGCOMBINER_CONFIG, "count=-1")
	_, err = NewFromEnv()
	require.Error(t, err)
}
