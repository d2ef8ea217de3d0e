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

//go:build !onnx

package backends

import (
	"fmt"

	"go.uber.org/zap"
)

// NewORTSessionFactory is a stub when ONNX Runtime support is not compiled
// in. Rebuild with -tags onnx to enable it.
func NewORTSessionFactory(_ *zap.Logger) (SessionFactory, error) {
	return nil, fmt.Errorf("onnx runtime support requires the onnx build tag: %w", ErrBackendUnavailable)
}
