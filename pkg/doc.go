// Package pkg provides the core libraries for Storyline timeline layouts.
//
// # Overview
//
// Storyline draws the co-occurrence of entities over time: one line per
// entity, bundled into a node wherever entities share a cluster in a year.
// The pkg directory is organized into these areas:
//
//  1. [storyline] - Domain logic (entity extraction, clusters, lanes, nodes)
//  2. [query] - The manual query language, backend views and results
//  3. [session] - The widget state machine (idle → entities chosen → data
//     loaded → rendered)
//  4. [pipeline] - Orchestration (fetch → layout → export) with caching
//  5. [server] - HTTP API for layouts, queries, annotations and sessions
//
// # Architecture
//
// The typical data flow:
//
//	Manual query ("person:Hannibal, place:Cannae")
//	         ↓
//	    [query] package (parse, build the backend view)
//	         ↓
//	    Search backend (field → value → year → cluster ids)
//	         ↓
//	    [storyline] package (clusters, lanes, nodes, lines)
//	         ↓
//	    [sink] package (layout JSON)
//
// # Quick Start
//
//	refs := query.Parse("person:Hannibal, person:Scipio")
//	view := query.BuildView(refs, "", pipeline.DefaultClusterField)
//
//	runner := pipeline.NewRunner(cache.NewNullCache(), nil, logger)
//	res, _, err := runner.Fetch(ctx, query.NewHTTPSource(backendURL), view, nil)
//
//	result, err := runner.Execute(ctx, res.Timeline, pipeline.Options{View: view})
//	os.Stdout.Write(result.Artifact)
//
// # Supporting Packages
//
// [annotate] - Event descriptions with entity links, sanitized for HTML.
//
// [cache] - File, memory, Redis and layered caches for results and layouts.
//
// [config] - TOML configuration shared by the CLI and the server.
//
// [errors] - Structured error codes mapped to HTTP statuses.
//
// [observability] - Hooks for layouts, caches, sessions and HTTP requests.
//
// [buildinfo] - Version information injected at build time.
//
// # Testing
//
//	go test ./pkg/...
//	go test -run Example ./pkg/storyline
package pkg
