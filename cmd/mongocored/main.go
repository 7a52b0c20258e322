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

// Package main is a small demonstration binary wiring a Backend, a Catalog,
// Bootstrap, and a Router together. It has no network listener (wire framing
// is out of this core's scope); instead it reads newline-delimited JSON
// command requests from stdin and writes newline-delimited JSON responses to
// stdout, which is enough to drive the dispatcher end-to-end.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs" // set GOMAXPROCS from the container's CPU quota
	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/bootstrap"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/filestore"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/indexfactory"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/memstore"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/router"
)

// cli mirrors the teacher's cmd/ferretdb flag-struct style, scoped down to
// what this core actually needs: a database name and an optional data
// directory (in-memory when empty).
var cli struct {
	DB       string `default:"test" help:"Logical database name this core serves."`
	DataDir  string `default:""     help:"Directory for newline-delimited JSON persistence. Empty means in-memory only."`
	LogLevel string `default:"info" help:"Log level: debug, info, warn, error." enum:"debug,info,warn,error"`
}

func main() {
	kong.Parse(&cli)

	logger := mustLogger(cli.LogLevel)
	defer logger.Sync() //nolint:errcheck // best effort on exit

	backend := mustBackend(cli.DataDir)

	cat := catalog.New(cli.DB, backend, logger)

	if err := bootstrap.Run(cat, backend, logger); err != nil {
		logger.Warn("bootstrap replay had errors", zap.Error(err))
	}

	r := router.New(cat, logger)
	prometheus.MustRegister(r)

	if err := serve(os.Stdin, os.Stdout, r, logger); err != nil && err != io.EOF {
		logger.Error("serve failed", zap.Error(err))
		os.Exit(1)
	}
}

// mustBackend picks memstore for an empty data directory, or filestore
// backed by dataDir otherwise (spec.md §3's "reference persistence backend"
// / "file persistence backend").
func mustBackend(dataDir string) collection.Backend {
	factory := indexfactory.NewMemoryFactory()

	if dataDir == "" {
		return memstore.NewBackend(factory)
	}

	backend, err := filestore.NewBackend(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open data directory %q: %v\n", dataDir, err)
		os.Exit(1)
	}

	return backend
}

func mustLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", level, err)
		os.Exit(1)
	}

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	return logger
}
