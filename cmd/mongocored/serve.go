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

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/router"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// request is the newline-delimited JSON envelope this demonstration binary
// reads from stdin in place of a real wire-protocol OP_MSG frame.
type request struct {
	Channel string         `json:"channel"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// serve reads one JSON request per line from r, dispatches it through
// router, and writes one JSON response per line to w. It returns nil once
// the input is exhausted, or the first read or write error.
func serve(r io.Reader, w io.Writer, rt *router.Router, logger *zap.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("failed to decode request line", zap.Error(err))
			continue
		}

		resp := dispatch(rt, req)

		out, err := json.Marshal(resp)
		if err != nil {
			logger.Warn("failed to encode response", zap.Error(err))
			continue
		}

		if _, err := fmt.Fprintln(w, string(out)); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// dispatch invokes one command and shapes the result (or error) into the
// same {ok, errmsg, code, codeName} wire convention the write handlers use.
func dispatch(rt *router.Router, req request) map[string]any {
	params, err := mapToDocument(req.Params)
	if err != nil {
		return map[string]any{"ok": float64(0), "errmsg": err.Error()}
	}

	resp, err := rt.Dispatch(req.Channel, req.Command, params)
	if err != nil {
		out := map[string]any{"ok": float64(0), "errmsg": err.Error()}

		if serr, ok := err.(*mongoerrors.ServerError); ok { //nolint:errorlint // sentinel wire error
			out["code"] = int32(serr.Code)
			out["codeName"] = serr.Code.String()
		}

		return out
	}

	return documentToMap(resp)
}

// mapToDocument converts JSON-decoded generic values into the closed value
// set types.Document accepts, normalizing whole-valued float64 numbers (the
// only numeric shape encoding/json produces) to int64, the same convention
// filestore's on-disk reload uses.
func mapToDocument(m map[string]any) (*types.Document, error) {
	doc := types.MakeDocument(len(m))

	for k, v := range m {
		cv, err := convertValue(v)
		if err != nil {
			return nil, err
		}

		if err := doc.Set(k, cv); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func convertValue(v any) (any, error) {
	switch vv := v.(type) {
	case nil:
		return types.Null, nil
	case map[string]any:
		return mapToDocument(vv)
	case []any:
		arr := types.MakeArray(len(vv))

		for _, elem := range vv {
			cv, err := convertValue(elem)
			if err != nil {
				return nil, err
			}

			if err := arr.Append(cv); err != nil {
				return nil, err
			}
		}

		return arr, nil
	case float64:
		if vv == float64(int64(vv)) {
			return int64(vv), nil
		}

		return vv, nil
	case string, bool:
		return vv, nil
	default:
		return nil, fmt.Errorf("mongocored: unsupported JSON value type %T", v)
	}
}

// documentToMap converts a response document back into plain Go values for
// JSON encoding.
func documentToMap(doc *types.Document) map[string]any {
	out := make(map[string]any, doc.Len())

	for _, k := range doc.Keys() {
		v, _ := doc.Get(k)
		out[k] = valueToJSON(v)
	}

	return out
}

func valueToJSON(v any) any {
	switch vv := v.(type) {
	case *types.Document:
		return documentToMap(vv)
	case *types.Array:
		out := make([]any, vv.Len())

		for i := range out {
			elem, _ := vv.Get(i)
			out[i] = valueToJSON(elem)
		}

		return out
	case types.NullType:
		return nil
	case types.ObjectID:
		return vv.String()
	default:
		return vv
	}
}
