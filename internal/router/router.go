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

// Package router implements the command dispatcher (spec.md §4.3): a
// case-insensitive table from command name to handler, the pending-sentinel
// discipline around every non-error-query command, and the individual
// write/read/admin handlers that translate commands into Catalog/Collection
// operations.
package router

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/errhistory"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/must"
)

// Parts of this router's Prometheus metric names.
const (
	metricsNamespace = "mongogoserver"
	metricsSubsystem = "router"
)

// HandleFunc processes a single command's params and returns its response
// document (not yet stamped with ok:1 — Dispatch does that).
type HandleFunc func(r *Router, channel string, params *types.Document) (*types.Document, error)

// command mirrors the teacher's command{Handler, Help} pattern
// (internal/handler/commands.go), minus authentication (a Non-goal here).
type command struct {
	Handler HandleFunc
	Help    string
}

// Router dispatches named commands against a single Catalog, matching
// spec.md §1's scoping of this core to one logical database.
type Router struct {
	Catalog *catalog.Catalog
	History *errhistory.History
	log     *zap.Logger

	commands map[string]*command

	commandsTotal   *prometheus.CounterVec
	writeErrorsTotal prometheus.Counter
}

// New builds a Router dispatching against cat, using log for structured
// logging (nil is replaced with a no-op logger).
func New(cat *catalog.Catalog, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	r := &Router{
		Catalog: cat,
		History: errhistory.New(),
		log:     log,

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "commands_total",
				Help:      "Total number of commands dispatched, by name and outcome.",
			},
			[]string{"command", "outcome"},
		),
		writeErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "write_errors_total",
				Help:      "Total number of write errors recorded into channel error history.",
			},
		),
	}

	r.initCommands()

	return r
}

// isErrorQueryCommand reports whether name is one of the three legacy
// error-history commands that must NOT get a pending sentinel pushed ahead
// of them (spec.md §4.2/§4.3).
func isErrorQueryCommand(name string) bool {
	switch strings.ToLower(name) {
	case "getlasterror", "getpreverror", "reseterror":
		return true
	default:
		return false
	}
}

// Dispatch resolves commandName case-insensitively and invokes its handler.
// Before invoking any command other than the three error-query commands, it
// pushes the pending sentinel onto channel's history (spec.md §4.3).
func (r *Router) Dispatch(channel, commandName string, params *types.Document) (*types.Document, error) {
	cmd, ok := r.commands[strings.ToLower(commandName)]
	if !ok {
		r.commandsTotal.WithLabelValues(commandName, "not_found").Inc()
		return nil, &mongoerrors.NoSuchCommand{Name: commandName}
	}

	if !isErrorQueryCommand(commandName) {
		r.History.PushPending(channel)
	}

	resp, err := cmd.Handler(r, channel, params)
	if err != nil {
		r.commandsTotal.WithLabelValues(commandName, "error").Inc()
		return nil, err
	}

	r.commandsTotal.WithLabelValues(commandName, "ok").Inc()

	return resp, nil
}

// Describe implements prometheus.Collector.
func (r *Router) Describe(ch chan<- *prometheus.Desc) {
	r.commandsTotal.Describe(ch)
	r.writeErrorsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *Router) Collect(ch chan<- prometheus.Metric) {
	r.commandsTotal.Collect(ch)
	r.writeErrorsTotal.Collect(ch)
}

// ok wraps doc (or a fresh empty document) with ok:1. Setting a fixed "ok"
// key on an already-valid document cannot fail.
func ok(doc *types.Document) (*types.Document, error) {
	if doc == nil {
		doc = types.MakeDocument(1)
	}

	must.NoError(doc.Set("ok", float64(1)))

	return doc, nil
}

// cursorResponse builds the single-batch cursor response shape spec.md §6
// defines: {cursor: {id: 0, ns, firstBatch}, ok: 1}.
func cursorResponse(ns string, batch []*types.Document) (*types.Document, error) {
	arr := types.MakeArray(len(batch))
	for _, d := range batch {
		if err := arr.Append(d); err != nil {
			return nil, err
		}
	}

	cursor := must.NotFail(types.NewDocument("id", int64(0), "ns", ns, "firstBatch", arr))

	doc := types.MakeDocument(1)
	must.NoError(doc.Set("cursor", cursor))

	return ok(doc)
}

func stringParam(params *types.Document, key string) (string, error) {
	v, err := params.Get(key)
	if err != nil {
		return "", fmt.Errorf("router: missing required field %q", key)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("router: field %q must be a string", key)
	}

	return s, nil
}

func int64Param(params *types.Document, key string, def int64) int64 {
	v, err := params.Get(key)
	if err != nil {
		return def
	}

	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return def
	}
}

func docParam(params *types.Document, key string) *types.Document {
	v, err := params.Get(key)
	if err != nil {
		return types.MakeDocument(0)
	}

	d, ok := v.(*types.Document)
	if !ok {
		return types.MakeDocument(0)
	}

	return d
}

func arrayParam(params *types.Document, key string) *types.Array {
	v, err := params.Get(key)
	if err != nil {
		return types.MakeArray(0)
	}

	a, ok := v.(*types.Array)
	if !ok {
		return types.MakeArray(0)
	}

	return a
}
