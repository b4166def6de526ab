// Copyright 2026 The Mara Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stress

import (
	"math/rand"

	"go.chromium.org/luci/common/errors"
	"gopkg.in/yaml.v3"
)

// Fill selects what gets written into allocated blocks.
type Fill int

const (
	// FillNone leaves blocks untouched; only the arena structure is
	// verified.
	FillNone Fill = iota
	// FillZeroes and FillOnes write the word 0 resp. 1 into every 8 byte
	// window of a block.
	FillZeroes
	FillOnes
	// FillRandom gives every block its own random word pattern, so a
	// block bleeding into its neighbor cannot go unnoticed.
	FillRandom
)

var fillNames = map[Fill]string{
	FillNone:   "none",
	FillZeroes: "zeroes",
	FillOnes:   "ones",
	FillRandom: "random",
}

func (f Fill) String() string {
	if s, ok := fillNames[f]; ok {
		return s
	}
	return "unknown"
}

// ParseFill is the inverse of String.
func ParseFill(s string) (Fill, error) {
	for f, name := range fillNames {
		if name == s {
			return f, nil
		}
	}
	return FillNone, errors.Fmt("unknown fill strategy %q", s)
}

// UnmarshalYAML accepts the String form in scenario files.
func (f *Fill) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseFill(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// pattern returns the word pattern for one freshly allocated block.
func (f Fill) pattern(rng *rand.Rand) uint64 {
	switch f {
	case FillZeroes:
		return 0
	case FillOnes:
		return 1
	case FillRandom:
		return rng.Uint64()
	default:
		return 0
	}
}
