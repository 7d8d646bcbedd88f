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
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// AbstractDatabaseManager owns one connection pool and reports on its health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	// Acquire takes a dedicated connection from the pool within the
	// configured acquire timeout. release must be called exactly once.
	Acquire(ctx context.Context) (conn bun.IDB, release func(), err error)
	Config() ConnectionConfig
	GetStats() *DBStats
	SetLogger(logger Logger)
	SetMetricsRegisterer(reg prometheus.Registerer)
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql pool stats.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"

	DriverPQ  = "pq"
	DriverPGX = "pgx"
)

// ConnectionConfig describes how to reach a database, size its pool and
// which engine features to switch on.
type ConnectionConfig struct {
	Type     string `json:"type" yaml:"type"`     // postgres, mysql, sqlite
	Driver   string `json:"driver" yaml:"driver"` // postgres only: pq, pgx
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
	Encrypt  bool   `json:"encrypt" yaml:"encrypt"`

	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	AcquireTimeout  time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`

	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	EnableQueryLog      bool          `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime       time.Duration `json:"slow_query_time" yaml:"slow_query_time"`

	EnablePulse        bool `json:"enable_pulse" yaml:"enable_pulse"`
	EnableMetrics      bool `json:"enable_metrics" yaml:"enable_metrics"`
	PredicateCacheSize int  `json:"predicate_cache_size" yaml:"predicate_cache_size"`
}

// Config is the on-disk configuration document.
type Config struct {
	ConnectionConfig ConnectionConfig `json:"connection_config" yaml:"connection_config"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Driver:              DriverPQ,
		MaxIdleConns:        2,
		MaxOpenConns:        10,
		AcquireTimeout:      time.Second * 30,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     time.Minute * 30,
		ConnectTimeout:      time.Second * 10,
		ReadTimeout:         time.Second * 30,
		WriteTimeout:        time.Second * 30,
		HealthCheckInterval: 0,
		SlowQueryTime:       time.Second * 2,
	}
}

// LoadConfig reads a YAML config file. Values absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{ConnectionConfig: *DefaultConnectionConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
