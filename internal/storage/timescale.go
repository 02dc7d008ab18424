package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohamedkhairy/indicator-engine/internal/config"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Metrics for TimescaleDB reads
	timescaleQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timescale_query_total",
			Help: "Total number of candle queries against TimescaleDB",
		},
		[]string{"operation", "status"}, // status: "success" or "error"
	)

	timescaleQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timescale_query_latency_seconds",
			Help:    "Candle query latency against TimescaleDB in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	timescaleRowsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timescale_candles_read_total",
			Help: "Total number of candle rows read from TimescaleDB",
		},
	)
)

// TimescaleDBClient implements CandleStorage for TimescaleDB. The engine
// only reads; the candle table is written by the ingestion pipeline.
type TimescaleDBClient struct {
	db       *sql.DB
	dbConfig config.DatabaseConfig
	table    string
}

// NewTimescaleDBClient creates a new TimescaleDB client
func NewTimescaleDBClient(dbConfig config.DatabaseConfig) (*TimescaleDBClient, error) {
	// Build connection string
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	// Open database connection
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to TimescaleDB",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
		logger.String("table", dbConfig.CandleTable),
	)

	return &TimescaleDBClient{
		db:       db,
		dbConfig: dbConfig,
		table:    candleTable(dbConfig.CandleTable),
	}, nil
}

// candleTable quotes the configured table name, defaulting to bars_1m.
func candleTable(name string) string {
	if name == "" {
		name = "bars_1m"
	}
	return pq.QuoteIdentifier(name)
}

func rangeQuery(table string) string {
	return `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM ` + table + `
		WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`
}

func latestQuery(table string) string {
	return `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM ` + table + `
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
}

// GetCandles retrieves candles for a symbol within a time range
func (t *TimescaleDBClient) GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error) {
	started := time.Now()
	rows, err := t.db.QueryContext(ctx, rangeQuery(t.table), symbol, start, end)
	if err != nil {
		timescaleQueryTotal.WithLabelValues("range", "error").Inc()
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	timescaleQueryLatency.WithLabelValues("range").Observe(time.Since(started).Seconds())
	if err != nil {
		timescaleQueryTotal.WithLabelValues("range", "error").Inc()
		return nil, err
	}
	timescaleQueryTotal.WithLabelValues("range", "success").Inc()
	return candles, nil
}

// GetLatestCandles retrieves the latest N candles for a symbol
func (t *TimescaleDBClient) GetLatestCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	started := time.Now()
	rows, err := t.db.QueryContext(ctx, latestQuery(t.table), symbol, limit)
	if err != nil {
		timescaleQueryTotal.WithLabelValues("latest", "error").Inc()
		return nil, fmt.Errorf("failed to query latest candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	timescaleQueryLatency.WithLabelValues("latest").Observe(time.Since(started).Seconds())
	if err != nil {
		timescaleQueryTotal.WithLabelValues("latest", "error").Inc()
		return nil, err
	}
	timescaleQueryTotal.WithLabelValues("latest", "success").Inc()

	// Reverse to get chronological order
	reverseCandles(candles)
	return candles, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandles(rows rowScanner) ([]models.Candle, error) {
	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(
			&c.Symbol,
			&c.OpenTime,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.OpenTime = c.OpenTime.UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	timescaleRowsRead.Add(float64(len(candles)))
	return candles, nil
}

func reverseCandles(candles []models.Candle) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}

// Close closes the database connection
func (t *TimescaleDBClient) Close() error {
	logger.Info("Closing TimescaleDB connection")
	return t.db.Close()
}
