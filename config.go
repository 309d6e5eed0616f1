// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

import (
	"strconv"

	env "github.com/xyproto/env/v2"
)

// Environment variable names read by DefaultOptions, overriding the
// baked-in RearrangeOptions defaults (spec §2 ambient stack). All are
// optional; unset means "use the hardcoded default".
const (
	envMinVoid  = "MKV_MIN_VOID"
	envStrategy = "MKV_STRATEGY" // "pack" or "preserve"
	envShrink   = "MKV_ALLOW_SHRINK"
)

// DefaultOptions builds RearrangeOptions the same way DefaultRearrangeOptions
// does, except MinVoid, AllowShrink and Strategy may be overridden by an
// environment variable, for library callers who don't want to thread flags
// through their own config layer (spec §2, grounded
// on xyproto-flapc's use of github.com/xyproto/env/v2 for the same kind of
// runtime knob).
func DefaultOptions() RearrangeOptions {
	opts := DefaultRearrangeOptions()
	if s := env.Str(envMinVoid); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			opts.MinVoid = n
		}
	}
	if env.Has(envShrink) {
		opts.AllowShrink = env.Bool(envShrink)
	}
	if env.Str(envStrategy) == "pack" {
		opts.Strategy = Pack
	}
	return opts
}
