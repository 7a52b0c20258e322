// Copyright 2021 FerretDB Inc.
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

// Package lazyerrors provides a thin wrapper that attaches a caller frame to
// an error without changing its message, so that internal ("should never
// happen") errors can be traced back to their origin in logs.
package lazyerrors

import (
	"fmt"
	"runtime"
)

// withFrame wraps an error together with the file:line of its caller.
type withFrame struct {
	err   error
	frame string
}

// Error implements error.
func (e *withFrame) Error() string {
	return fmt.Sprintf("%s (%s)", e.err.Error(), e.frame)
}

// Unwrap exposes the wrapped error.
func (e *withFrame) Unwrap() error {
	return e.err
}

// Error wraps err with the caller's file:line. It returns nil if err is nil.
func Error(err error) error {
	if err == nil {
		return nil
	}

	frame := "unknown"

	if _, file, line, ok := runtime.Caller(1); ok {
		frame = fmt.Sprintf("%s:%d", file, line)
	}

	return &withFrame{err: err, frame: frame}
}

// check interfaces
var (
	_ error = (*withFrame)(nil)
)
