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

package router

import (
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// handleGetLastError implements `getLastError` by delegating to the
// channel's error history (spec.md §4.2).
func handleGetLastError(r *Router, channel string, _ *types.Document) (*types.Document, error) {
	return r.History.GetLastError(channel)
}

// handleGetPrevError implements `getPrevError`.
func handleGetPrevError(r *Router, channel string, _ *types.Document) (*types.Document, error) {
	return r.History.GetPrevError(channel)
}

// handleResetError implements `resetError`: it discards channel's history
// entirely and always reports success.
func handleResetError(r *Router, channel string, _ *types.Document) (*types.Document, error) {
	r.History.ResetError(channel)

	return ok(nil)
}
