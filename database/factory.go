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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tomoncle/tabula/types"
	"github.com/tomoncle/tabula/utils"
)

var supportedTypes = []string{TypeMySQL, TypePostgres, TypeSQLite}

// NormalizeType folds the accepted aliases onto the canonical type names.
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "postgres", "postgresql", "pg":
		return TypePostgres
	case "mysql", "mariadb":
		return TypeMySQL
	case "sqlite", "sqlite3":
		return TypeSQLite
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// Validate checks the fields every connection needs.
func (c *ConnectionConfig) Validate() error {
	c.Type = NormalizeType(c.Type)
	supported := false
	for _, t := range supportedTypes {
		if c.Type == t {
			supported = true
			break
		}
	}
	if !supported {
		return types.Errorf(types.KindInvalidArgument, "unsupported database type: %q, supported types: %v", c.Type, supportedTypes)
	}
	if c.DBName == "" {
		return types.Errorf(types.KindInvalidArgument, "database name is required")
	}
	if c.Type == TypePostgres {
		switch c.Driver {
		case "":
			c.Driver = DriverPQ
		case DriverPQ, DriverPGX:
		default:
			return types.Errorf(types.KindInvalidArgument, "unsupported postgres driver: %q", c.Driver)
		}
	}
	if c.Type != TypeSQLite && c.Host == "" {
		return types.Errorf(types.KindInvalidArgument, "host is required for %s", c.Type)
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return types.Errorf(types.KindInvalidArgument, "max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// CreateFromConfig validates cfg and returns a manager that is not yet connected.
func CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, types.Errorf(types.KindInvalidArgument, "database configuration cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	manager := NewDatabaseManager(cfg)
	manager.SetLogger(GetLogger())
	return manager, nil
}

// ApplyEnv overrides configuration values from DB_* environment variables.
func ApplyEnv(cfg *ConnectionConfig) {
	if t := os.Getenv("DB_TYPE"); t != "" {
		cfg.Type = t
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		cfg.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.SSLMode = sslmode
	}
	cfg.Encrypt = utils.EnvDefaultBool("DB_ENCRYPT", cfg.Encrypt)

	// Connection pool config
	if maxIdle := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			cfg.MaxIdleConns = val
		}
	}
	if maxOpen := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			cfg.MaxOpenConns = val
		}
	}
	envSeconds("DB_ACQUIRE_TIMEOUT", &cfg.AcquireTimeout)
	envSeconds("DB_CONN_MAX_LIFETIME", &cfg.ConnMaxLifetime)
	envSeconds("DB_CONNECT_TIMEOUT", &cfg.ConnectTimeout)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
	cfg.EnablePulse = utils.EnvDefaultBool("DB_ENABLE_PULSE", cfg.EnablePulse)
	cfg.EnableMetrics = utils.EnvDefaultBool("DB_ENABLE_METRICS", cfg.EnableMetrics)
}

// envSeconds accepts either a Go duration ("1m30s") or a plain number of seconds.
func envSeconds(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
