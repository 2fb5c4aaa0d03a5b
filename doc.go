// Package pgcdc streams PostgreSQL logical replication changes to Kafka.
//
// pgcdc connects to a PostgreSQL replication slot, decodes pgoutput or
// wal2json messages into structured change events, and produces them to
// Kafka topics with checkpointed, at-least-once delivery.
//
// # Architecture
//
// The pipeline has three stages wired together by internal/engine:
//
// 1. Source: pkg/cdc's PostgreSQLConnector manages the replication
// connection, slot and publication lifecycle, and plugin decoding.
//
// 2. Processing: pkg/cdc's StreamProcessor fans events out to worker
// goroutines with per-table ordering, retries, and a dead letter queue.
//
// 3. Sink: pkg/cdc's KafkaProducer routes events to topics and encodes
// them as JSON or Avro, optionally inside Kafka transactions.
//
// Replication positions are committed only after Kafka acknowledges the
// events that carried them, so a crash replays rather than drops.
//
// # Quick Start
//
// Stream changes from two tables:
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/pgcdc/internal/engine"
//	    "github.com/ajitpratap0/pgcdc/pkg/config"
//	    "github.com/ajitpratap0/pgcdc/pkg/observability"
//	)
//
//	cfg, _ := config.LoadConfig("pgcdc.yaml")
//	_ = observability.Initialize(observability.DefaultConfig())
//
//	e, _ := engine.New(cfg, observability.GetLogger())
//	_ = e.Start(context.Background())
//	defer e.Stop()
//
// Or from the command line:
//
//	pgcdc stream --config pgcdc.yaml
//
// # Key Packages
//
//	internal/engine     - Pipeline orchestration and offset checkpointing
//	pkg/cdc             - Replication connector, stream processor, Kafka producer
//	pkg/typemeta        - Column type string parsing into structured metadata
//	pkg/pgoid           - Type name to OID mapping and name normalization
//	pkg/config          - YAML configuration with environment substitution
//	pkg/errors          - Structured error handling
//	pkg/metrics         - Prometheus metrics collection
//	pkg/observability   - Logging, tracing, and pipeline instrumentation
//
// # Type Metadata
//
// Logical decoding identifies column types by name, and the textual
// grammar is overloaded: "numeric(12,3)", "geometry(MultiPolygon,4326)",
// "timestamp (6) with time zone", "int[]", "_int4". pkg/typemeta parses
// all of those forms without catalog access, and pkg/cdc caches the
// parsed descriptor per column so repeated events pay the regular
// expression cost once.
//
// # Configuration
//
// A single YAML file configures the whole pipeline:
//
//	name: orders-pipeline
//	source:
//	    host: ${PGCDC_HOST}
//	    database: shopdb
//	    username: replicator
//	    tables: [orders, customers]
//	kafka:
//	    brokers: [localhost:9092]
//	    topic_prefix: shopdb.cdc.
//
// Environment variables are supported with ${VAR_NAME} syntax.
package pgcdc
