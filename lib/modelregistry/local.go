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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ============================================================================
// Local model listing
// ============================================================================

// LocalModel describes a model directory under the models root.
type LocalModel struct {
	// Ref is the owner/name reference the directory layout encodes.
	Ref string
	// Path is the absolute or root-relative model directory.
	Path string
	// SizeBytes is the total size of the files in the directory.
	SizeBytes int64
	// Variants lists the quantization variants present on disk, in
	// canonical order. The full-precision default is not listed.
	Variants []string
}

// ListLocalModels scans modelsDir for model directories, one or two levels
// deep to cover both "name" and "owner/name" layouts. A directory counts as
// a model when it holds a gliner_config.json or an ONNX model file. A
// missing models directory yields an empty listing.
func ListLocalModels(modelsDir string) ([]LocalModel, error) {
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var models []LocalModel
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(modelsDir, entry.Name())
		if isModelDir(dir) {
			models = append(models, describeLocalModel(entry.Name(), dir))
			continue
		}
		subEntries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			if !sub.IsDir() {
				continue
			}
			subDir := filepath.Join(dir, sub.Name())
			if isModelDir(subDir) {
				models = append(models, describeLocalModel(entry.Name()+"/"+sub.Name(), subDir))
			}
		}
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Ref < models[j].Ref })
	return models, nil
}

// ResolveLocalModel returns the directory for ref under modelsDir, or an
// empty string when the model is not present on disk.
func ResolveLocalModel(ref ModelRef, modelsDir string) string {
	dir := ref.DirPath(modelsDir)
	if isModelDir(dir) {
		return dir
	}
	return ""
}

func describeLocalModel(ref, dir string) LocalModel {
	return LocalModel{
		Ref:       ref,
		Path:      dir,
		SizeBytes: dirSize(dir),
		Variants:  detectLocalVariants(dir),
	}
}

func isModelDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "gliner_config.json")); err == nil {
		return true
	}
	for _, d := range []string{dir, filepath.Join(dir, "onnx")} {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".onnx") {
				return true
			}
		}
	}
	return false
}

func detectLocalVariants(dir string) []string {
	var variants []string
	for _, v := range variantOrder {
		name := variantFileName(v)
		for _, d := range []string{dir, filepath.Join(dir, "onnx")} {
			if _, err := os.Stat(filepath.Join(d, name)); err == nil {
				variants = append(variants, v)
				break
			}
		}
	}
	return variants
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
