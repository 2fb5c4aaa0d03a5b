package cdc

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// changeDecoder turns raw WAL payloads into change events. The two
// implementations cover the pgoutput and wal2json output plugins.
type changeDecoder interface {
	Decode(walData []byte, pos Position) ([]ChangeEvent, error)
}

// PostgreSQLConnector streams logical replication changes. A regular
// connection serves catalog lookups and DDL while a second connection
// opened in replication mode carries the WAL stream.
type PostgreSQLConnector struct {
	config CDCConfig
	logger *zap.Logger

	conn     *pgx.Conn      // catalog queries and DDL
	replConn *pgconn.PgConn // replication protocol

	decoder changeDecoder
	tables  []string

	eventCh chan ChangeEvent
	errorCh chan error
	stopCh  chan struct{}

	mu           sync.RWMutex
	running      bool
	currentLSN   pglogrepl.LSN
	confirmedLSN pglogrepl.LSN

	schemaMu sync.RWMutex
	schemas  map[string]*TableSchema // keyed by "schema.table"

	statsMu sync.Mutex
	stats   EventMetrics

	healthMu sync.Mutex
	health   HealthStatus
}

// NewPostgreSQLConnector returns an unconnected connector.
func NewPostgreSQLConnector(logger *zap.Logger) *PostgreSQLConnector {
	return &PostgreSQLConnector{
		logger:  logger.With(zap.String("connector", "postgresql")),
		errorCh: make(chan error, 100),
		stopCh:  make(chan struct{}),
		schemas: make(map[string]*TableSchema),
		health: HealthStatus{
			Status:  "disconnected",
			Message: "Not connected",
		},
	}
}

// Connect opens both connections, prepares the publication and slot,
// loads the schema cache and picks the decoder for the configured
// plugin.
func (c *PostgreSQLConnector) Connect(config CDCConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := config.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid config")
	}
	c.config = config
	c.eventCh = make(chan ChangeEvent, config.BufferSize)

	if err := c.dial(config.ConnectionString); err != nil {
		return err
	}

	// pgoutput reads changes through a publication, wal2json does not.
	if config.Plugin == PluginPgoutput {
		if err := c.ensurePublication(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to ensure publication")
		}
	}
	if err := c.ensureReplicationSlot(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to ensure replication slot")
	}
	if err := c.loadTableSchemas(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to load table schemas")
	}

	switch config.Plugin {
	case PluginWal2JSON:
		c.decoder = NewWal2JSONDecoder(config.Database, pgoid.DefaultRegistry(), c.columnNullable, c.logger)
	default:
		c.decoder = NewPgoutputDecoder(config.Database, c.columnNullable, c.logger)
	}

	c.updateHealth("connected", "Connected to PostgreSQL", nil)
	c.logger.Info("PostgreSQL connector ready",
		zap.String("slot", config.SlotName),
		zap.String("publication", config.Publication),
		zap.String("plugin", string(config.Plugin)))
	return nil
}

// dial opens the catalog connection and the replication connection.
func (c *PostgreSQLConnector) dial(connString string) error {
	conn, err := pgx.Connect(context.Background(), connString)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to PostgreSQL")
	}
	c.conn = conn

	var version string
	if err := conn.QueryRow(context.Background(), "SELECT version()").Scan(&version); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to query PostgreSQL version")
	}
	c.logger.Info("connected to PostgreSQL", zap.String("version", version))

	replConfig, err := pgconn.ParseConfig(connString)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse replication config")
	}
	// Replication commands only work on a connection opened with
	// replication=database.
	replConfig.RuntimeParams["replication"] = "database"

	c.replConn, err = pgconn.ConnectConfig(context.Background(), replConfig)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to establish replication connection")
	}
	return nil
}

// Subscribe narrows the publication to the given tables and starts the
// streaming goroutine. Bare table names are taken from public.
func (c *PostgreSQLConnector) Subscribe(tables []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New(errors.ErrorTypeConflict, "connector is already running")
	}

	c.tables = qualifyTables(tables)

	if c.config.Plugin == PluginPgoutput {
		if err := c.updatePublication(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to update publication")
		}
	}

	c.running = true
	go c.replicationLoop()

	c.updateHealth("running", "Subscribed to tables", nil)
	c.logger.Info("subscribed to tables", zap.Strings("tables", c.tables))
	return nil
}

// ReadChanges hands out the event channel. Events start flowing once
// Subscribe has begun streaming.
func (c *PostgreSQLConnector) ReadChanges(ctx context.Context) (<-chan ChangeEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.running {
		return nil, errors.New(errors.ErrorTypeConflict, "connector is not running")
	}
	return c.eventCh, nil
}

// Errors exposes asynchronous replication errors.
func (c *PostgreSQLConnector) Errors() <-chan error {
	return c.errorCh
}

// GetPosition returns the most recently received WAL position.
func (c *PostgreSQLConnector) GetPosition() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Position{LSN: c.currentLSN}
}

// Acknowledge marks everything up to position as durably handled and
// reports it to the server, letting it discard older WAL.
func (c *PostgreSQLConnector) Acknowledge(position Position) error {
	if !position.IsValid() {
		return errors.New(errors.ErrorTypeValidation,
			stringpool.Sprintf("invalid replication position: %s", position))
	}

	c.mu.Lock()
	c.confirmedLSN = position.LSN
	c.mu.Unlock()

	return c.sendStandbyStatus()
}

// Stop ends replication and closes both connections.
func (c *PostgreSQLConnector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	close(c.stopCh)

	if c.replConn != nil {
		if err := c.replConn.Close(context.Background()); err != nil {
			c.logger.Error("failed to close replication connection", zap.Error(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(context.Background()); err != nil {
			c.logger.Error("failed to close connection", zap.Error(err))
		}
	}

	c.updateHealth("stopped", "Connector stopped", nil)
	c.logger.Info("PostgreSQL connector stopped")
	return nil
}

// Health reports connector status with event counters folded in.
func (c *PostgreSQLConnector) Health() HealthStatus {
	c.healthMu.Lock()
	health := c.health
	c.healthMu.Unlock()

	c.statsMu.Lock()
	health.EventCount = c.stats.EventsReceived
	health.ErrorCount = c.stats.EventsErrored
	if !c.stats.LastEventTime.IsZero() {
		health.Lag = time.Since(c.stats.LastEventTime)
	}
	c.statsMu.Unlock()

	return health
}

// ensurePublication creates the publication when missing. pgoutput can
// only stream tables that belong to one.
func (c *PostgreSQLConnector) ensurePublication() error {
	var exists bool
	err := c.conn.QueryRow(context.Background(),
		"SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)",
		c.config.Publication).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to check publication existence")
	}
	if exists {
		return nil
	}

	if _, err := c.conn.Exec(context.Background(), createPublicationSQL(c.config.Publication)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create publication")
	}

	c.logger.Info("created publication", zap.String("publication", c.config.Publication))
	return nil
}

// updatePublication narrows the publication to the subscribed tables.
func (c *PostgreSQLConnector) updatePublication() error {
	sql := setPublicationTablesSQL(c.config.Publication, c.tables)
	if _, err := c.conn.Exec(context.Background(), sql); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to update publication")
	}

	c.logger.Info("updated publication",
		zap.String("publication", c.config.Publication),
		zap.Strings("tables", c.tables))
	return nil
}

// ensureReplicationSlot creates the replication slot when missing.
func (c *PostgreSQLConnector) ensureReplicationSlot() error {
	var exists bool
	err := c.conn.QueryRow(context.Background(),
		"SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)",
		c.config.SlotName).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to check replication slot existence")
	}
	if exists {
		return nil
	}

	result, err := pglogrepl.CreateReplicationSlot(context.Background(), c.replConn,
		c.config.SlotName, string(c.config.Plugin),
		pglogrepl.CreateReplicationSlotOptions{Temporary: c.config.TemporarySlot})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create replication slot")
	}

	c.logger.Info("created replication slot",
		zap.String("slot", c.config.SlotName),
		zap.String("plugin", string(c.config.Plugin)),
		zap.String("consistent_point", result.ConsistentPoint))
	return nil
}

// pluginArguments builds the START_REPLICATION option list for the
// configured output plugin.
func (c *PostgreSQLConnector) pluginArguments() []string {
	if c.config.Plugin == PluginWal2JSON {
		args := []string{
			`"format-version" '1'`,
			`"include-xids" 'true'`,
			`"include-timestamp" 'true'`,
		}
		if len(c.tables) > 0 {
			args = append(args, stringpool.Sprintf(`"add-tables" '%s'`,
				stringpool.JoinPooled(c.tables, ",")))
		}
		return args
	}

	return []string{
		"proto_version '1'",
		stringpool.Sprintf("publication_names '%s'", c.config.Publication),
	}
}

// replicationLoop drives START_REPLICATION and pumps messages until
// Stop. Standby status flows on the configured interval and whenever
// the server requests a reply.
func (c *PostgreSQLConnector) replicationLoop() {
	defer c.updateHealth("stopped", "Replication stopped", nil)

	var startLSN pglogrepl.LSN
	if c.config.StartLSN != "" {
		if lsn, err := pglogrepl.ParseLSN(c.config.StartLSN); err == nil {
			startLSN = lsn
		}
	}

	err := pglogrepl.StartReplication(context.Background(), c.replConn,
		c.config.SlotName, startLSN, pglogrepl.StartReplicationOptions{
			PluginArgs: c.pluginArguments(),
		})
	if err != nil {
		c.logger.Error("failed to start replication", zap.Error(err))
		c.sendError(err)
		return
	}

	c.logger.Info("started logical replication",
		zap.String("start_lsn", startLSN.String()),
		zap.String("plugin", string(c.config.Plugin)))
	c.updateHealth("running", "Replication active", nil)

	nextStatus := time.Now().Add(c.config.StatusInterval)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if time.Now().After(nextStatus) {
			if err := c.sendStandbyStatus(); err != nil {
				c.logger.Error("failed to send standby status", zap.Error(err))
			}
			nextStatus = time.Now().Add(c.config.StatusInterval)
		}

		// Block until a message arrives or the next status update is
		// due.
		ctx, cancel := context.WithDeadline(context.Background(), nextStatus)
		msg, err := c.replConn.ReceiveMessage(ctx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if c.stopped() {
				return
			}
			c.logger.Error("failed to receive replication message", zap.Error(err))
			c.sendError(err)
			time.Sleep(time.Second)
			continue
		}

		if err := c.handleMessage(msg); err != nil {
			c.logger.Error("failed to process replication message", zap.Error(err))
			c.sendError(err)
			c.noteError()
		}
	}
}

func (c *PostgreSQLConnector) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *PostgreSQLConnector) handleMessage(msg pgproto3.BackendMessage) error {
	copyData, ok := msg.(*pgproto3.CopyData)
	if !ok {
		// Parameter status and notices are expected protocol chatter.
		return nil
	}

	switch copyData.Data[0] {
	case pglogrepl.XLogDataByteID:
		return c.handleXLogData(copyData.Data[1:])
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		return c.handleKeepalive(copyData.Data[1:])
	default:
		return nil
	}
}

// handleXLogData decodes one WAL payload and forwards its events.
func (c *PostgreSQLConnector) handleXLogData(data []byte) error {
	xld, err := pglogrepl.ParseXLogData(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to parse XLogData")
	}

	c.mu.Lock()
	c.currentLSN = xld.WALStart
	c.mu.Unlock()

	events, err := c.decoder.Decode(xld.WALData, Position{LSN: xld.WALStart})
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := c.forwardEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// handleKeepalive answers server keepalives when a reply is requested.
func (c *PostgreSQLConnector) handleKeepalive(data []byte) error {
	keepalive, err := pglogrepl.ParsePrimaryKeepaliveMessage(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to parse keepalive")
	}

	if keepalive.ReplyRequested {
		return c.sendStandbyStatus()
	}
	return nil
}

// sendStandbyStatus reports the received and confirmed WAL positions
// to the server.
func (c *PostgreSQLConnector) sendStandbyStatus() error {
	c.mu.RLock()
	currentLSN := c.currentLSN
	confirmedLSN := c.confirmedLSN
	c.mu.RUnlock()

	return pglogrepl.SendStandbyStatusUpdate(context.Background(), c.replConn,
		pglogrepl.StandbyStatusUpdate{
			WALWritePosition: currentLSN,
			WALFlushPosition: currentLSN,
			WALApplyPosition: confirmedLSN,
			ClientTime:       time.Now(),
		})
}

// forwardEvent hands the event to the consumer. When the buffer is full
// this blocks, pushing backpressure into the replication stream rather
// than dropping changes.
func (c *PostgreSQLConnector) forwardEvent(event ChangeEvent) error {
	select {
	case c.eventCh <- event:
	case <-c.stopCh:
		return errors.New(errors.ErrorTypeConflict, "connector stopped while forwarding event")
	}

	c.noteEvent()
	c.logger.Debug("forwarded change event",
		zap.String("operation", string(event.Operation)),
		zap.String("table", event.Table),
		zap.String("event_id", event.ID))
	return nil
}

// sendError reports an asynchronous error without blocking replication.
func (c *PostgreSQLConnector) sendError(err error) {
	select {
	case c.errorCh <- err:
	default:
	}
}

func (c *PostgreSQLConnector) updateHealth(status, message string, details map[string]interface{}) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.Status = status
	c.health.Message = message
	if details != nil {
		c.health.Details = details
	}
}

func (c *PostgreSQLConnector) noteEvent() {
	c.statsMu.Lock()
	c.stats.EventsReceived++
	c.stats.EventsProcessed++
	c.stats.LastEventTime = time.Now()
	c.statsMu.Unlock()
}

func (c *PostgreSQLConnector) noteError() {
	c.statsMu.Lock()
	c.stats.EventsErrored++
	c.statsMu.Unlock()
}
