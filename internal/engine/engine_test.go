package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
	"github.com/ajitpratap0/pgcdc/pkg/config"
	"github.com/ajitpratap0/pgcdc/pkg/observability"
)

func TestMain(m *testing.M) {
	// The engine builds on observability helpers that require the
	// framework to be initialized first
	if err := observability.Initialize(observability.DefaultConfig()); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// stubSource is an in-memory source used in place of the PostgreSQL
// connector.
type stubSource struct {
	mu         sync.Mutex
	config     cdc.CDCConfig
	subscribed []string
	acked      []cdc.Position
	stopped    bool

	eventCh chan cdc.ChangeEvent
	errorCh chan error
}

func newStubSource() *stubSource {
	return &stubSource{
		eventCh: make(chan cdc.ChangeEvent, 100),
		errorCh: make(chan error, 10),
	}
}

func (s *stubSource) Connect(config cdc.CDCConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
	return nil
}

func (s *stubSource) Subscribe(tables []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = tables
	return nil
}

func (s *stubSource) ReadChanges(ctx context.Context) (<-chan cdc.ChangeEvent, error) {
	return s.eventCh, nil
}

func (s *stubSource) GetPosition() cdc.Position {
	return cdc.Position{}
}

func (s *stubSource) Acknowledge(position cdc.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, position)
	return nil
}

func (s *stubSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubSource) Health() cdc.HealthStatus {
	return cdc.HealthStatus{Status: "running"}
}

func (s *stubSource) Errors() <-chan error {
	return s.errorCh
}

func (s *stubSource) lastAcked() cdc.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.acked) == 0 {
		return cdc.Position{}
	}
	return s.acked[len(s.acked)-1]
}

func (s *stubSource) connectedConfig() cdc.CDCConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *stubSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// stubSink records produced events in place of the Kafka producer.
type stubSink struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	produced   []cdc.ChangeEvent
	produceErr error
}

func (s *stubSink) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *stubSink) ProduceEvents(ctx context.Context, events []cdc.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.produceErr != nil {
		return s.produceErr
	}
	s.produced = append(s.produced, events...)
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) GetMetrics() cdc.KafkaMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cdc.KafkaMetrics{MessagesProduced: int64(len(s.produced))}
}

func (s *stubSink) producedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.produced)
}

func (s *stubSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Source.Database = "shopdb"
	cfg.Source.Username = "replicator"
	cfg.Source.Tables = []string{"orders"}
	cfg.Streaming.ParallelWorkers = 1
	cfg.Streaming.MaxRetries = 0
	cfg.Streaming.RetryBackoff = time.Millisecond
	cfg.Offsets.Path = ""
	cfg.Offsets.CommitPolicy = "every_batch"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *stubSource, *stubSink) {
	t.Helper()

	e, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	src := newStubSource()
	snk := &stubSink{}
	e.source = src
	e.producer = snk

	return e, src, snk
}

func changeEvent(table string, lsn uint64) cdc.ChangeEvent {
	return cdc.ChangeEvent{
		ID:        fmt.Sprintf("evt-%d", lsn),
		Operation: cdc.OperationInsert,
		Database:  "shopdb",
		Schema:    "public",
		Table:     table,
		After:     map[string]interface{}{"id": int64(lsn)},
		Timestamp: time.Now(),
		Position:  cdc.Position{LSN: pglogrepl.LSN(lsn)},
	}
}

func TestEngineLifecycle(t *testing.T) {
	e, src, snk := newTestEngine(t, testConfig())

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	assert.ErrorContains(t, e.Start(ctx), "already running")

	assert.True(t, e.GetStatus().Running)

	require.NoError(t, e.Stop())
	assert.ErrorContains(t, e.Stop(), "not running")

	assert.True(t, src.isStopped())
	assert.True(t, snk.isClosed())
}

func TestEngineProducesAndCommits(t *testing.T) {
	e, src, snk := newTestEngine(t, testConfig())

	require.NoError(t, e.Start(context.Background()))

	src.eventCh <- changeEvent("orders", 100)
	src.eventCh <- changeEvent("orders", 200)
	src.eventCh <- changeEvent("orders", 300)

	require.Eventually(t, func() bool {
		return snk.producedCount() == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return src.lastAcked().LSN == 300
	}, 5*time.Second, 10*time.Millisecond)

	checkpoint, err := e.offsets.Load()
	require.NoError(t, err)
	assert.Equal(t, pglogrepl.LSN(300), checkpoint.Position.LSN)
	assert.Equal(t, int64(3), checkpoint.EventCount)
	assert.Equal(t, "pgcdc_slot", checkpoint.Metadata["slot"])

	require.NoError(t, e.Stop())
}

func TestEnginePeriodicCommit(t *testing.T) {
	cfg := testConfig()
	cfg.Offsets.CommitPolicy = "periodic"
	cfg.Offsets.CommitInterval = 50 * time.Millisecond
	e, src, snk := newTestEngine(t, cfg)

	require.NoError(t, e.Start(context.Background()))

	src.eventCh <- changeEvent("orders", 500)

	require.Eventually(t, func() bool {
		return snk.producedCount() == 1 && src.lastAcked().LSN == 500
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop())
}

func TestEngineResumesFromCheckpoint(t *testing.T) {
	e, src, _ := newTestEngine(t, testConfig())

	require.NoError(t, e.offsets.Save(cdc.Checkpoint{
		ID:         "pgcdc",
		Position:   cdc.Position{LSN: 0x16B3748},
		Timestamp:  time.Now(),
		EventCount: 42,
	}))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, "0/16B3748", src.connectedConfig().StartLSN)

	status := e.GetStatus()
	assert.Equal(t, "0/16B3748", status.CommittedPosition.String())

	require.NoError(t, e.Stop())
}

func TestEngineExplicitStartLSNWins(t *testing.T) {
	cfg := testConfig()
	cfg.Source.StartLSN = "0/AAAA"
	e, src, _ := newTestEngine(t, cfg)

	require.NoError(t, e.offsets.Save(cdc.Checkpoint{
		Position: cdc.Position{LSN: 1},
	}))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, "0/AAAA", src.connectedConfig().StartLSN)

	require.NoError(t, e.Stop())
}

func TestEngineReportsConnectorErrors(t *testing.T) {
	e, src, _ := newTestEngine(t, testConfig())

	require.NoError(t, e.Start(context.Background()))

	src.errorCh <- errors.New("replication hiccup")

	require.Eventually(t, func() bool {
		stats := e.pipeline.GetStats()
		return stats["errors"].(int64) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// An asynchronous source error must not take the pipeline down
	assert.True(t, e.GetStatus().Running)

	require.NoError(t, e.Stop())
}

func TestEngineStatusHealth(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())

	status := e.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, "stopped", status.OverallHealth)

	require.NoError(t, e.Start(context.Background()))

	status = e.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, "healthy", status.OverallHealth)
	require.NotNil(t, status.StreamProcessor)
	require.NotNil(t, status.KafkaProducer)

	require.NoError(t, e.Stop())
}

func TestEngineSubscribesConfiguredTables(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Tables = []string{"orders", "public.customers"}
	e, src, _ := newTestEngine(t, cfg)

	require.NoError(t, e.Start(context.Background()))

	src.mu.Lock()
	subscribed := src.subscribed
	src.mu.Unlock()
	assert.Equal(t, []string{"orders", "public.customers"}, subscribed)

	require.NoError(t, e.Stop())
}

func TestMaxPosition(t *testing.T) {
	events := []cdc.ChangeEvent{
		changeEvent("orders", 300),
		changeEvent("orders", 100),
		changeEvent("orders", 200),
	}
	assert.Equal(t, pglogrepl.LSN(300), maxPosition(events).LSN)
	assert.Equal(t, pglogrepl.LSN(0), maxPosition(nil).LSN)
}

func TestReadAvailableEvents(t *testing.T) {
	ch := make(chan cdc.ChangeEvent, 10)
	for i := 1; i <= 5; i++ {
		ch <- changeEvent("orders", uint64(i))
	}

	events := readAvailableEvents(ch, 3)
	assert.Len(t, events, 3)

	events = readAvailableEvents(ch, 10)
	assert.Len(t, events, 2)

	events = readAvailableEvents(ch, 10)
	assert.Empty(t, events)
}
