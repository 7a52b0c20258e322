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

package mongoerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NamespaceExists", CodeNamespaceExists.String())
	assert.Equal(t, "Location40323", CodeStageBadFieldCount.String())
	assert.NotEmpty(t, Code(0).String())
}

func TestServerErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewServerError(CodeNamespaceExists, "collection already exists")
	assert.Equal(t, "NamespaceExists (48): collection already exists", err.Error())
	assert.False(t, err.Silent())

	silent := NewSilentServerError(CodeFailedToParse, "ns not found")
	assert.True(t, silent.Silent())
	assert.True(t, IsSilent(silent))
	assert.False(t, IsSilent(err))
}

func TestCodeIs(t *testing.T) {
	t.Parallel()

	err := NewServerError(CodeNamespaceExists, "exists")
	assert.True(t, CodeIs(err, CodeNamespaceExists))
	assert.True(t, CodeIs(err, CodeFailedToParse, CodeNamespaceExists))
	assert.False(t, CodeIs(err, CodeFailedToParse))
	assert.False(t, CodeIs(&NoSuchCommand{Name: "x"}, CodeNamespaceExists))
}
