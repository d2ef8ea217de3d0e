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

package pipelines

import (
	"os"
	"path/filepath"
	"strings"
)

// FindONNXFile looks for an ONNX file in the given directory.
// It searches for the first matching file from the candidates list.
// Also checks the "onnx/" subdirectory where some HuggingFace models store encoder files.
func FindONNXFile(dir string, candidates []string) string {
	// Search directories: root directory and onnx/ subdirectory
	searchDirs := []string{dir, filepath.Join(dir, "onnx")}

	for _, searchDir := range searchDirs {
		for _, name := range candidates {
			path := filepath.Join(searchDir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// FindAnyONNXFile returns the first .onnx file in dir or its onnx/
// subdirectory, in directory order. It covers quantization variants like
// model_fp16.onnx that the fixed candidate lists do not name. External
// weight files (.onnx_data, .onnx.data) are not model files and are skipped.
func FindAnyONNXFile(dir string) string {
	searchDirs := []string{dir, filepath.Join(dir, "onnx")}

	for _, searchDir := range searchDirs {
		entries, err := os.ReadDir(searchDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".onnx") {
				continue
			}
			return filepath.Join(searchDir, entry.Name())
		}
	}
	return ""
}
