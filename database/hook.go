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
	"io"
	"reflect"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

var (
	otherColor  = color.New(color.FgRed)
	bunTag      = color.New(color.FgCyan).Sprintf("%-10s", "[BUN]")
	slowTag     = color.New(color.FgYellow, color.Bold).Sprintf("%-10s", "[BUN_SLOW]")
	errorFormat = color.New(color.BgRed, color.FgWhite)
)

// QueryHook prints every statement with its duration, colored by operation.
type QueryHook struct {
	writer io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(w io.Writer) *QueryHook {
	return &QueryHook{writer: w}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		bunTag,
		fmt.Sprintf("%12s", now.Sub(event.StartTime).Round(time.Microsecond)),
		colorQuery(event),
	}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", errorFormat.Sprintf(" %s: %s ", typ, event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

func colorQuery(event *bun.QueryEvent) string {
	if c, ok := operationColors[event.Operation()]; ok {
		return c.Sprint(event.Query)
	}
	return otherColor.Sprint(event.Query)
}

// slowQueryHook logs successful statements that ran longer than slowTime.
type slowQueryHook struct {
	slowTime time.Duration
	logger   func() Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration <= h.slowTime {
		return
	}
	if logger := h.logger(); logger != nil {
		logger.Warn(slowTag+" slow query detected",
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}

// QueryMetrics collects per-operation statement latency and failures.
type QueryMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewQueryMetrics registers the collectors on reg, reusing collectors that a
// previous engine already registered there.
func NewQueryMetrics(reg prometheus.Registerer) (*QueryMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabula_query_duration_seconds",
			Help:    "Duration of SQL statements executed by the engine",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_query_errors_total",
			Help: "SQL statements that failed, by classified error kind",
		},
		[]string{"database", "operation", "kind"},
	)
	var err error
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	if failures, err = registerCollector(reg, failures); err != nil {
		return nil, err
	}
	return &QueryMetrics{duration: duration, errors: failures}, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register query metrics: %w", err)
	}
	return c, nil
}

// Hook returns a bun hook that reports into m under the database label.
func (m *QueryMetrics) Hook(database string) bun.QueryHook {
	return &metricsHook{metrics: m, database: database}
}

type metricsHook struct {
	metrics  *QueryMetrics
	database string
}

func (h *metricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *metricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	op := event.Operation()
	h.metrics.duration.WithLabelValues(h.database, op).Observe(time.Since(event.StartTime).Seconds())
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		kind, _ := Classify(event.Err)
		h.metrics.errors.WithLabelValues(h.database, op, string(kind)).Inc()
	}
}
