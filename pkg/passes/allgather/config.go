// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	// DefaultSizeThreshold is the default limit on the total output bytes of a combined all-gather.
	DefaultSizeThreshold int64 = 30 * 1024 * 1024

	// DefaultCountThreshold is the default limit on the number of all-gathers combined into one.
	DefaultCountThreshold = 256
)

// AGCOMBINER_CONFIG is the environment variable with the configuration used by NewFromEnv.
//
// The format is the one of ParseConfig, e.g. "size=1MiB,count=16".
const AGCOMBINER_CONFIG = "AGCOMBINER_CONFIG"

// Config of the all-gather combiner.
type Config struct {
	// SizeThreshold is the maximum number of bytes of the outputs of a combined all-gather.
	// An all-gather larger than the threshold is never combined, but is left alone.
	SizeThreshold int64

	// CountThreshold is the maximum number of all-gathers combined into one.
	CountThreshold int
}

// DefaultConfig returns the configuration with DefaultSizeThreshold and DefaultCountThreshold.
func DefaultConfig() Config {
	return Config{SizeThreshold: DefaultSizeThreshold, CountThreshold: DefaultCountThreshold}
}

// Validate returns an error if one of the thresholds is not positive.
func (c Config) Validate() error {
	if c.SizeThreshold <= 0 {
		return errors.Errorf("all-gather combiner size threshold must be positive, got %d", c.SizeThreshold)
	}
	if c.CountThreshold <= 0 {
		return errors.Errorf("all-gather combiner count threshold must be positive, got %d", c.CountThreshold)
	}
	return nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	return fmt.Sprintf("size=%s,count=%d", formatSize(c.SizeThreshold), c.CountThreshold)
}

// formatSize returns size with a binary unit if that is exact, or the plain number of bytes otherwise.
func formatSize(size int64) string {
	humanized := strings.ReplaceAll(humanize.IBytes(uint64(size)), " ", "")
	if parsed, err := humanize.ParseBytes(humanized); err == nil && parsed == uint64(size) {
		return humanized
	}
	return strconv.FormatInt(size, 10)
}

// ParseConfig parses a comma-separated list of "key=value" options, starting from DefaultConfig:
//
//   - "size": the size threshold, in bytes, optionally with a unit (e.g. "1MiB", "30MB", "4096").
//   - "count": the count threshold.
//
// An empty string returns DefaultConfig.
func ParseConfig(config string) (Config, error) {
	c := DefaultConfig()
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			return c, errors.Errorf("invalid all-gather combiner option %q in %q, expected \"key=value\"", option, config)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "size":
			size, err := humanize.ParseBytes(value)
			if err != nil {
				return c, errors.Wrapf(err, "invalid size threshold %q", value)
			}
			c.SizeThreshold = int64(size)
		case "count":
			count, err := strconv.Atoi(value)
			if err != nil {
				return c, errors.Wrapf(err, "invalid count threshold %q", value)
			}
			c.CountThreshold = count
		default:
			return c, errors.Errorf("unknown all-gather combiner option %q in %q, valid options are \"size\" and \"count\"",
				key, config)
		}
	}
	if err := c.Validate(); err != nil {
		return c, errors.WithMessagef(err, "config %q", config)
	}
	return c, nil
}

// NewFromEnv creates a Combiner configured by the environment variable AGCOMBINER_CONFIG if set, or with
// DefaultConfig otherwise.
func NewFromEnv() (*Combiner, error) {
	config := DefaultConfig()
	if value, found := os.LookupEnv(AGCOMBINER_CONFIG); found {
		var err error
		config, err = ParseConfig(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "parsing $%s", AGCOMBINER_CONFIG)
		}
	}
	return NewWithConfig(config)
}
