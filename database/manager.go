/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type defaultDatabaseManager struct {
	config          *ConnectionConfig
	db              *bun.DB
	sqlDB           *sql.DB
	logger          Logger
	registerer      prometheus.Registerer
	mu              sync.RWMutex
	connected       bool
	lastError       error
	healthStatus    *HealthStatus
	stopHealthCheck chan struct{}
	healthDone      chan struct{}
}

// NewDatabaseManager returns a manager backed by bun. A nil config falls
// back to DefaultConnectionConfig.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	cfg := *config
	return &defaultDatabaseManager{
		config:       &cfg,
		healthStatus: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Config() ConnectionConfig {
	return *dm.config
}

func (dm *defaultDatabaseManager) log() Logger {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.logger
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	sqlDB, db, err := dm.createConnection()
	if err != nil {
		dm.lastError = err
		return types.NewError(types.KindConnection, "failed to create database connection", err).
			WithTable(dm.config.DBName, "").WithOperation("connect")
	}
	configureConnectionPool(sqlDB, dm.config)

	ctxTimeout, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctxTimeout); err != nil {
		_ = db.Close()
		dm.lastError = err
		return types.NewError(types.KindConnection, "database connection test failed", err).
			WithTable(dm.config.DBName, "").WithOperation("connect")
	}

	dm.sqlDB, dm.db = sqlDB, db
	dm.connected = true
	dm.lastError = nil

	if dm.config.HealthCheckInterval > 0 {
		dm.startHealthCheck()
	}

	if dm.logger != nil {
		dm.logger.Info("Database connected successfully", "type", dm.config.Type, "host", dm.config.Host, "database", dm.config.DBName)
	}
	return nil
}

func (dm *defaultDatabaseManager) createConnection() (*sql.DB, *bun.DB, error) {
	var sqlDB *sql.DB
	var db *bun.DB
	var err error

	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = 30 * time.Second
	}

	switch NormalizeType(dm.config.Type) {
	case TypeMySQL:
		sqlDB, db, err = dm.createMySQLConnection()
	case TypePostgres:
		sqlDB, db, err = dm.createPostgreSQLConnection()
	case TypeSQLite:
		sqlDB, db, err = dm.createSQLiteConnection()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dm.config.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	if dm.config.EnableQueryLog {
		db.AddQueryHook(NewQueryHook(os.Stdout))
	} else {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithEnabled(false), bundebug.FromEnv("BUNDEBUG")))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{slowTime: dm.config.SlowQueryTime, logger: dm.log})
	}
	if dm.config.EnableMetrics {
		metrics, err := NewQueryMetrics(dm.registerer)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		db.AddQueryHook(metrics.Hook(dm.config.DBName))
	}
	return sqlDB, db, nil
}

func (dm *defaultDatabaseManager) createMySQLConnection() (*sql.DB, *bun.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
		dm.config.Username,
		dm.config.Password,
		dm.config.Host,
		dm.config.Port,
		dm.config.DBName,
		dm.config.ConnectTimeout,
		dm.config.ReadTimeout,
		dm.config.WriteTimeout,
	)
	if dm.config.Encrypt {
		dsn += "&tls=true"
	}

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func (dm *defaultDatabaseManager) createPostgreSQLConnection() (*sql.DB, *bun.DB, error) {
	sslMode := dm.config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
		if dm.config.Encrypt {
			sslMode = "require"
		}
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(dm.config.Username, dm.config.Password),
		Host:   fmt.Sprintf("%s:%d", dm.config.Host, dm.config.Port),
		Path:   "/" + dm.config.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(dm.config.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()

	driverName := "postgres"
	if dm.config.Driver == DriverPGX {
		driverName = "pgx"
	}
	sqlDB, err := sql.Open(driverName, u.String())
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (dm *defaultDatabaseManager) createSQLiteConnection() (*sql.DB, *bun.DB, error) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, sqliteDSN(dm.config.DBName))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

// sqliteDSN keeps explicit file names and in-memory DSNs, and appends ".db"
// to bare names.
func sqliteDSN(name string) string {
	switch {
	case name == ":memory:", strings.HasPrefix(name, "file:"):
		return name
	case strings.HasSuffix(name, ".db"), strings.HasSuffix(name, ".sqlite"), strings.HasSuffix(name, ".sqlite3"):
		return name
	}
	return name + ".db"
}

func configureConnectionPool(sqlDB *sql.DB, cfg *ConnectionConfig) {
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	if !dm.connected || dm.db == nil {
		dm.mu.Unlock()
		return types.Errorf(types.KindNotConnected, "database %s is not connected", dm.config.DBName).
			WithTable(dm.config.DBName, "").WithOperation("disconnect")
	}
	stop, done := dm.stopHealthCheck, dm.healthDone
	dm.stopHealthCheck, dm.healthDone = nil, nil
	db := dm.db
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false
	logger := dm.logger
	dm.mu.Unlock()

	// the health loop takes the lock, so wait for it outside
	if stop != nil {
		close(stop)
		<-done
	}

	if err := db.Close(); err != nil {
		if logger != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
		return types.NewError(types.KindDisconnect, "failed to close database connection", err).
			WithTable(dm.config.DBName, "").WithOperation("disconnect")
	}
	if logger != nil {
		logger.Info("Database connection closed", "database", dm.config.DBName)
	}
	return nil
}

func (dm *defaultDatabaseManager) IsConnected() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.connected && dm.db != nil
}

func (dm *defaultDatabaseManager) notConnected(op string) error {
	return types.Errorf(types.KindNotConnected, "database %s is not connected", dm.config.DBName).
		WithTable(dm.config.DBName, "").WithOperation(op)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	db := dm.db
	dm.mu.RUnlock()

	if db == nil {
		return dm.notConnected("ping")
	}
	if err := db.PingContext(ctx); err != nil {
		return types.NewError(types.KindConnection, "ping failed", err).
			WithTable(dm.config.DBName, "").WithOperation("ping")
	}
	return nil
}

func (dm *defaultDatabaseManager) Acquire(ctx context.Context) (bun.IDB, func(), error) {
	dm.mu.RLock()
	db, connected := dm.db, dm.connected
	dm.mu.RUnlock()
	if !connected || db == nil {
		return nil, nil, dm.notConnected("acquire")
	}

	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if dm.config.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, dm.config.AcquireTimeout)
	}
	defer cancel()

	conn, err := db.Conn(acquireCtx)
	if err != nil {
		msg := "failed to acquire connection"
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("no connection available within %s, pool exhausted", dm.config.AcquireTimeout)
		}
		return nil, nil, types.NewError(types.KindConnection, msg, err).
			WithTable(dm.config.DBName, "").WithOperation("acquire")
	}
	var once sync.Once
	release := func() {
		once.Do(func() { _ = conn.Close() })
	}
	return &conn, release, nil
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB, connected := dm.db, dm.sqlDB, dm.connected
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     connected,
	}
	if db == nil {
		status.LastError = "database not connected"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	dm.lastError = err
	dm.healthStatus = status
	dm.mu.Unlock()
	return status
}

// startHealthCheck runs periodic health checks. Failures are logged only;
// the pool re-dials on its own for the next acquire.
func (dm *defaultDatabaseManager) startHealthCheck() {
	stop := make(chan struct{})
	done := make(chan struct{})
	dm.stopHealthCheck, dm.healthDone = stop, done
	interval := dm.config.HealthCheckInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		wasHealthy := true
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
				status := dm.HealthCheck(ctx)
				cancel()
				if status.Healthy != wasHealthy {
					if logger := dm.log(); logger != nil {
						if status.Healthy {
							logger.Info("Database healthy again", "database", dm.config.DBName)
						} else {
							logger.Warn("Database health check failed", "database", dm.config.DBName, "error", status.LastError)
						}
					}
					wasHealthy = status.Healthy
				}
			case <-stop:
				return
			}
		}
	}()
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}

// SetMetricsRegisterer chooses where query metrics are registered. It only
// affects connections opened afterwards.
func (dm *defaultDatabaseManager) SetMetricsRegisterer(reg prometheus.Registerer) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.registerer = reg
}
