package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/pankha-project/pankha-agent/internal/protocol"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	StoreSnapshot(ctx context.Context, snapshot *protocol.TelemetrySnapshot) error
	StoreFailsafeEvent(ctx context.Context, timestampMs int64, entered bool, reason string) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS snapshots (
            timestamp INTEGER PRIMARY KEY,
            max_temperature REAL,
            sensor_count INTEGER,
            fan_count INTEGER,
            max_fan_speed INTEGER,
            cpu_usage REAL,
            memory_usage REAL,
            agent_uptime REAL
        );
        CREATE TABLE IF NOT EXISTS failsafe_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp INTEGER NOT NULL,
            entered INTEGER NOT NULL,
            reason TEXT
        );
    `)

	return err
}

func (r *sqliteRepository) StoreSnapshot(ctx context.Context, snapshot *protocol.TelemetrySnapshot) error {
	errFactory := errors.New()

	maxTemp := 0.0
	for _, s := range snapshot.Sensors {
		if s.Temperature > maxTemp {
			maxTemp = s.Temperature
		}
	}

	maxFanSpeed := 0
	for _, f := range snapshot.Fans {
		if f.Speed > maxFanSpeed {
			maxFanSpeed = f.Speed
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO snapshots (
            timestamp, max_temperature, sensor_count, fan_count,
            max_fan_speed, cpu_usage, memory_usage, agent_uptime
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            max_temperature = excluded.max_temperature,
            sensor_count = excluded.sensor_count,
            fan_count = excluded.fan_count,
            max_fan_speed = excluded.max_fan_speed,
            cpu_usage = excluded.cpu_usage,
            memory_usage = excluded.memory_usage,
            agent_uptime = excluded.agent_uptime
    `,
		snapshot.Timestamp,
		maxTemp,
		len(snapshot.Sensors),
		len(snapshot.Fans),
		maxFanSpeed,
		snapshot.SystemHealth.CPUUsage,
		snapshot.SystemHealth.MemoryUsage,
		snapshot.SystemHealth.AgentUptime,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) StoreFailsafeEvent(ctx context.Context, timestampMs int64, entered bool, reason string) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO failsafe_events (timestamp, entered, reason) VALUES (?, ?, ?)
    `, timestampMs, boolToInt(entered), reason)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}
