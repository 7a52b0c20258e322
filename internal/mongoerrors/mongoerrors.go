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

// Package mongoerrors defines the wire-visible error kinds the command core
// can return: codeful ServerErrors (possibly silent), bare ServerExceptions,
// and the two dispatch-level errors (NoSuchCollection, NoSuchCommand).
package mongoerrors

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Code is a legacy MongoDB wire error code.
type Code int32

// Codes used by this core (spec.md §7).
const (
	CodeNamespaceNotFound          Code = 26
	CodeFailedToParse              Code = 9
	CodeNamespaceExists            Code = 48
	CodeInvalidNamespaceLength     Code = 10080
	CodeInvalidCollectionName      Code = 10093
	CodeNamespaceUpdateIsSystem    Code = 10156
	CodeNamespaceDeleteIsSystem    Code = 12050
	CodeEmptyNamespaceName         Code = 16256
	CodeNamespaceInsertIsSystem    Code = 16459
	CodeStageBadFieldCount         Code = 40323
	CodeUnrecognizedPipelineStage  Code = 40324
)

// String returns the legacy codeName for code, or a generic "Location<N>" for
// codes that MongoDB itself never gave a name.
func (c Code) String() string {
	switch c {
	case CodeNamespaceNotFound:
		return "NamespaceNotFound"
	case CodeFailedToParse:
		return "FailedToParse"
	case CodeNamespaceExists:
		return "NamespaceExists"
	case CodeStageBadFieldCount:
		return "Location40323"
	case CodeUnrecognizedPipelineStage:
		return "Location40324"
	case CodeInvalidNamespaceLength:
		return "Location10080"
	case CodeInvalidCollectionName:
		return "Location10093"
	case CodeNamespaceUpdateIsSystem:
		return "Location10156"
	case CodeNamespaceDeleteIsSystem:
		return "Location12050"
	case CodeEmptyNamespaceName:
		return "Location16256"
	case CodeNamespaceInsertIsSystem:
		return "Location16459"
	default:
		return fmt.Sprintf("Location%d", int32(c))
	}
}

// ServerError is a codeful error that crosses the wire as
// {ok: 0, errmsg, code, codeName}.
type ServerError struct {
	Code     Code
	Message  string
	CodeName string // overrides Code.String() when non-empty
	silent   bool
}

// NewServerError creates a ServerError with the given code and message.
func NewServerError(code Code, message string) *ServerError {
	return &ServerError{Code: code, Message: message}
}

// NewSilentServerError creates a ServerError whose server-side logging is suppressed.
func NewSilentServerError(code Code, message string) *ServerError {
	return &ServerError{Code: code, Message: message, silent: true}
}

// Error implements error.
func (e *ServerError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.codeName(), e.Code, e.Message)
}

// Silent reports whether this error should be suppressed from server-side logs.
func (e *ServerError) Silent() bool {
	return e.silent
}

func (e *ServerError) codeName() string {
	if e.CodeName != "" {
		return e.CodeName
	}

	return e.Code.String()
}

// IsSilent reports whether err is a silent ServerError (e.g. "ns not found" on drop).
func IsSilent(err error) bool {
	se, ok := err.(*ServerError) //nolint:errorlint // sentinel wire error, never wrapped
	return ok && se.silent
}

// CodeIs reports whether err is a *ServerError with one of the given codes.
func CodeIs(err error, code Code, codes ...Code) bool {
	se, ok := err.(*ServerError) //nolint:errorlint // sentinel wire error, never wrapped
	if !ok {
		return false
	}

	return se.Code == code || slices.Contains(codes, se.Code)
}

// ServerException is a generic failure without a wire code; it turns into
// {ok: 0, errmsg} without a code field.
type ServerException struct {
	Message string
}

// NewServerException creates a ServerException.
func NewServerException(message string) *ServerException {
	return &ServerException{Message: message}
}

// Error implements error.
func (e *ServerException) Error() string {
	return e.Message
}

// NoSuchCollection is returned by handlers that explicitly require an
// existing collection (most handlers tolerate a missing collection instead).
type NoSuchCollection struct {
	Name string
}

// Error implements error.
func (e *NoSuchCollection) Error() string {
	return fmt.Sprintf("no such collection: %s", e.Name)
}

// NoSuchCommand is the router's fallback for an unrecognized command name.
type NoSuchCommand struct {
	Name string
}

// Error implements error.
func (e *NoSuchCommand) Error() string {
	return fmt.Sprintf("no such command: '%s'", e.Name)
}

// check interfaces
var (
	_ error = (*ServerError)(nil)
	_ error = (*ServerException)(nil)
	_ error = (*NoSuchCollection)(nil)
	_ error = (*NoSuchCommand)(nil)
)
