// Package rowforge is a client-side insert pipeline for columnar
// analytical stores speaking the ClickHouse HTTP protocol. It turns
// structured application rows into wire-format insert blocks, picking
// the most compact format the rows allow and reporting exactly which
// rows the store acknowledged.
//
// # Architecture
//
// An insert call flows through four stages:
//
// 1. Plan: table metadata (described from the store or registered in
// code) is compiled into an insert plan that fixes column order,
// binds a binary encoder per column, and classifies which columns a
// row may omit.
//
// 2. Resolve: the call's rows pick a wire format. Rows that carry
// every column go as RowBinary; uniform partial rows as
// JSONCompactEachRow; ragged rows as JSONEachRow. An explicit
// preference overrides the choice or fails fast if the plan cannot
// satisfy it.
//
// 3. Encode: rows are packed into blocks of a configured size. Slice
// inserts spanning enough blocks encode on a worker pool that
// preserves submission order; streams encode block by block with one
// block of lookahead, so memory stays bounded for unbounded sources.
//
// 4. Send: each block becomes one HTTP request on a pooled transport,
// optionally compressed. A rejected block stops the call and the
// error reports committed, unconfirmed, and never-sent rows.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/rowforge/rowforge/pkg/client"
//	    "github.com/rowforge/rowforge/pkg/config"
//	    "github.com/rowforge/rowforge/pkg/plan"
//	)
//
//	cfg := config.New("http://localhost:8123", "default")
//	c, err := client.New(cfg)
//	if err != nil {
//	    // handle
//	}
//	defer c.Close(context.Background())
//
//	op, err := c.Insert("page_views").Rows([]plan.Row{
//	    {"ts": time.Now(), "url": "/checkout", "user_id": 401},
//	}).Build()
//	if err != nil {
//	    // conflicting options surface here, before any I/O
//	}
//	res, err := op.Run(context.Background())
//
// # Key Packages
//
//	pkg/client      - client lifecycle and the insert builder
//	pkg/config      - sectioned YAML configuration
//	pkg/schema      - table metadata and DESCRIBE parsing
//	pkg/coltype     - wire-type declaration parser
//	pkg/plan        - insert-plan derivation and caching
//	pkg/format      - format resolution and row encoders
//	pkg/rowbinary   - binary wire primitives
//	pkg/batch       - block streaming and background windows
//	pkg/source      - row sources: slices, channels, funcs, Arrow,
//	                  Avro, Parquet
//	pkg/transport   - pooled HTTP transport, auth, compression
//	pkg/compression - request body codecs
//	pkg/errors      - structured error taxonomy
//	pkg/metrics     - prometheus instrumentation
//
// # Partial Failure
//
// Inserts are not transactional: blocks already acknowledged stay in
// the store when a later block fails. On a mid-call failure Run
// returns a *batch.StreamError whose Committed and Unconfirmed counts
// say how far the call got; rows after the failed block were never
// read from their source. Nothing is retried automatically.
package rowforge
