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

import "fmt"

// ValidationError reports unusable caller input (empty text, empty label set).
// It is returned before any tokenizer or engine call is issued, so a request
// that fails validation never touches a collaborator.
type ValidationError struct {
	// Field names the offending input ("text", "labels").
	Field string
	// Reason describes what was wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// newValidationError builds a ValidationError for the given field.
func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigurationError reports a collaborator contract violation, such as the
// engine returning outputs without an expected named tensor. These indicate a
// model/session mismatch rather than bad caller input.
type ConfigurationError struct {
	// Subject names the violated expectation (usually a tensor name).
	Subject string
	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Subject, e.Reason)
}

// newConfigurationError builds a ConfigurationError for the given subject.
func newConfigurationError(subject, reason string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: reason}
}
