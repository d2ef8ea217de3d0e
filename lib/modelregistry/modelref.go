// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modelregistry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ModelRef identifies a model by owner, name and optional quantization
// variant. References written as "hf:owner/name" (or with an "hf.co/" or
// "huggingface.co/" prefix) resolve against Hugging Face; bare "owner/name"
// references resolve against the local models directory.
type ModelRef struct {
	Owner   string
	Name    string
	Variant string

	// IsHuggingFace is true when the reference carried an explicit
	// Hugging Face prefix.
	IsHuggingFace bool
}

// FullName returns the "owner/name" form without variant or prefix.
func (r ModelRef) FullName() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// DirPath returns the on-disk directory for this model under modelsDir.
func (r ModelRef) DirPath(modelsDir string) string {
	if r.Owner == "" {
		return filepath.Join(modelsDir, r.Name)
	}
	return filepath.Join(modelsDir, r.Owner, r.Name)
}

// String renders the reference in its canonical form.
func (r ModelRef) String() string {
	s := r.FullName()
	if r.IsHuggingFace {
		s = "hf:" + s
	}
	if r.Variant != "" {
		s += ":" + r.Variant
	}
	return s
}

// ParseModelRef parses a model reference of the form
// [hf:]owner/name[:variant]. The variant, when present, must be one of
// ValidVariants.
func ParseModelRef(ref string) (ModelRef, error) {
	if ref == "" {
		return ModelRef{}, fmt.Errorf("model reference is empty")
	}

	rest, isHF := stripHuggingFacePrefix(ref)

	// Split off a trailing :variant if present.
	variant := ""
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		variant = rest[idx+1:]
		rest = rest[:idx]
		if variant == "" {
			return ModelRef{}, fmt.Errorf("model reference %q has an empty variant", ref)
		}
		if !IsValidVariant(variant) {
			return ModelRef{}, fmt.Errorf("unknown variant %q (valid: %s)", variant, strings.Join(ValidVariants(), ", "))
		}
	}

	if rest == "" {
		return ModelRef{}, fmt.Errorf("model reference %q has no model name", ref)
	}

	owner, name := "", rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		owner = rest[:idx]
		name = rest[idx+1:]
		if owner == "" || name == "" || strings.Contains(name, "/") {
			return ModelRef{}, fmt.Errorf("model reference %q is not of the form owner/name", ref)
		}
	}

	return ModelRef{
		Owner:         owner,
		Name:          name,
		Variant:       variant,
		IsHuggingFace: isHF,
	}, nil
}

// MustParseModelRef is ParseModelRef that panics on error, for use with
// references known at compile time.
func MustParseModelRef(ref string) ModelRef {
	r, err := ParseModelRef(ref)
	if err != nil {
		panic(err)
	}
	return r
}

func stripHuggingFacePrefix(ref string) (string, bool) {
	for _, prefix := range []string{"hf:", "hf.co/", "huggingface.co/"} {
		if rest, ok := strings.CutPrefix(ref, prefix); ok {
			return rest, true
		}
	}
	return ref, false
}
