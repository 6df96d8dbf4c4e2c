// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package errors provides standardized error handling utilities for the
// genetic-algorithm optimizer.
package errors

import (
	"errors"
	"fmt"
)

// Error categories for structured error handling.
const (
	CategoryConfiguration = "configuration"
	CategoryEvaluation    = "evaluation"
	CategoryPlatform      = "platform"
	CategoryTelemetry     = "telemetry"
	CategoryLoad          = "load"
)

// GAError represents a structured error with category and operation context.
type GAError struct {
	Category string
	Op       string // Operation that failed
	Err      error  // Underlying error
	Message  string // Human-readable message
}

// Error implements the error interface.
func (e *GAError) Error() string {
	if e.Message != "" && (e.Err == nil || e.Message != e.Err.Error()) {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Category, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GAError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *GAError) Is(target error) bool {
	t, ok := target.(*GAError)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Op == "" || e.Op == t.Op)
}

// Wrap wraps an error with operation context and category.
func Wrap(err error, category, op, message string) error {
	if err == nil {
		return nil
	}
	return &GAError{
		Category: category,
		Op:       op,
		Err:      err,
		Message:  message,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, category, op, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &GAError{
		Category: category,
		Op:       op,
		Err:      err,
		Message:  fmt.Sprintf(format, args...),
	}
}

// New creates a new GAError without wrapping an existing error.
func New(category, op, message string) error {
	return &GAError{
		Category: category,
		Op:       op,
		Err:      errors.New(message),
		Message:  message,
	}
}

// Newf creates a new GAError with a formatted message.
func Newf(category, op, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &GAError{
		Category: category,
		Op:       op,
		Err:      errors.New(msg),
		Message:  msg,
	}
}

// IsCategory checks whether an error belongs to a specific category.
func IsCategory(err error, category string) bool {
	var gaErr *GAError
	if errors.As(err, &gaErr) {
		return gaErr.Category == category
	}
	return false
}

// GetCategory extracts the category from an error, returning "" if err is
// not (or does not wrap) a *GAError.
func GetCategory(err error) string {
	var gaErr *GAError
	if errors.As(err, &gaErr) {
		return gaErr.Category
	}
	return ""
}

// IsRetryable determines whether an error should be retried. Matches the
// propagation policy: configuration/evaluation failures are fatal for the
// individual, platform/telemetry failures during retry windows are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCategory(err, CategoryConfiguration) {
		return false
	}
	if IsCategory(err, CategoryEvaluation) {
		return false
	}
	if IsCategory(err, CategoryPlatform) || IsCategory(err, CategoryTelemetry) {
		return true
	}
	return false
}

// Common error constructors for frequently used patterns.

// ConfigurationError creates a configuration error.
func ConfigurationError(op, message string) error {
	return New(CategoryConfiguration, op, message)
}

// ConfigurationErrorf creates a configuration error with formatting.
func ConfigurationErrorf(op, format string, args ...interface{}) error {
	return Newf(CategoryConfiguration, op, format, args...)
}

// EvaluationError wraps an evaluation-pipeline error.
func EvaluationError(op string, err error) error {
	return Wrap(err, CategoryEvaluation, op, "")
}

// EvaluationErrorf wraps an evaluation-pipeline error with a message.
func EvaluationErrorf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, CategoryEvaluation, op, format, args...)
}

// PlatformError wraps an orchestration-platform API error.
func PlatformError(op string, err error) error {
	return Wrap(err, CategoryPlatform, op, "")
}

// PlatformErrorf wraps a platform API error with a message.
func PlatformErrorf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, CategoryPlatform, op, format, args...)
}

// TelemetryError wraps a telemetry-backend query error.
func TelemetryError(op string, err error) error {
	return Wrap(err, CategoryTelemetry, op, "")
}

// TelemetryErrorf wraps a telemetry error with a message.
func TelemetryErrorf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, CategoryTelemetry, op, format, args...)
}

// LoadError wraps a load-generator error.
func LoadError(op string, err error) error {
	return Wrap(err, CategoryLoad, op, "")
}

// LoadErrorf wraps a load-generator error with a message.
func LoadErrorf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, CategoryLoad, op, format, args...)
}
