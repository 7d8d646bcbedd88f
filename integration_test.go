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

package tabula

import (
	"context"
	"os"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tomoncle/tabula/database"
	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/repository"
	"github.com/tomoncle/tabula/types"
)

// startPostgres runs a disposable PostgreSQL and returns a config for it.
// Set TEST_INTEGRATION to run these tests.
func startPostgres(t *testing.T) *database.ConnectionConfig {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("tabula_test"),
		postgres.WithUsername("tabula"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to stop postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		t.Fatal(err)
	}

	cfg := database.DefaultConnectionConfig()
	cfg.Type = database.TypePostgres
	cfg.Host = host
	cfg.Port = port
	cfg.Username = "tabula"
	cfg.Password = "test-password"
	cfg.DBName = "tabula_test"
	cfg.SSLMode = "disable"

	m := database.NewDatabaseManager(cfg)
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = m.Disconnect() }()
	for _, stmt := range []string{
		"CREATE TABLE teams (code VARCHAR(8) PRIMARY KEY, name TEXT NOT NULL)",
		"CREATE TABLE players (id BIGSERIAL PRIMARY KEY, team VARCHAR(8) REFERENCES teams(code), name TEXT NOT NULL UNIQUE, rating INT DEFAULT 1000)",
	} {
		if _, err := m.GetDB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	return cfg
}

func TestPostgresIntegration(t *testing.T) {
	cfg := startPostgres(t)

	for _, driver := range []string{database.DriverPQ, database.DriverPGX} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			c := *cfg
			c.Driver = driver
			e := connect(t, &c)

			if got := e.Tables(); !reflect.DeepEqual(got, []string{"players", "teams"}) {
				t.Fatalf("tables = %v", got)
			}
			players, _ := e.Table("players")
			teams, _ := e.Table("teams")
			if players.PrimaryKey().Column != "id" || players.PrimaryKey().Type != "NUMBER" {
				t.Errorf("players key = %+v", players.PrimaryKey())
			}
			if teams.PrimaryKey().Type != "STRING" {
				t.Errorf("teams key = %+v", teams.PrimaryKey())
			}

			teamRepo, _ := e.Repository("teams")
			playerRepo, _ := e.Repository("players")
			t.Cleanup(func() {
				_, _ = playerRepo.Delete(ctx, nil, nil)
				_, _ = teamRepo.Delete(ctx, nil, nil)
			})

			if _, err := teamRepo.InsertOne(ctx, types.Row{"code": "RED", "name": "Red"}, nil); err != nil {
				t.Fatal(err)
			}
			rows, err := playerRepo.Insert(ctx, []types.Row{
				{"team": "RED", "name": "ann-" + driver},
				{"team": "RED", "name": "bob-" + driver, "rating": 1200},
			}, &repository.Options{Select: filter.Columns("name", "rating")})
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("rows = %v", rows)
			}
			if r, _ := rows[0].Int64("rating"); r != 1000 {
				t.Errorf("missing value should take the column default, got %v", rows[0])
			}

			updated, err := playerRepo.Update(ctx, types.Row{"rating": 1100},
				filter.Where(filter.Element{"rating": filter.Ops{"$lt": 1100}}), nil)
			if err != nil || len(updated) != 1 {
				t.Errorf("update = %v, %v", updated, err)
			}

			found, err := playerRepo.Find(ctx, filter.Where(filter.Element{"$q": "bob"}), nil)
			if err != nil || len(found) != 1 {
				t.Errorf("search = %v, %v", found, err)
			}

			_, err = playerRepo.InsertOne(ctx, types.Row{"team": "RED", "name": "ann-" + driver}, nil)
			if !types.IsKind(err, types.KindDuplicateKey) {
				t.Errorf("duplicate = %v", err)
			}
			_, err = playerRepo.InsertOne(ctx, types.Row{"team": "BLUE", "name": "cid-" + driver}, nil)
			if !types.IsKind(err, types.KindForeignKeyViolation) {
				t.Errorf("foreign key = %v", err)
			}
			_, err = playerRepo.InsertOne(ctx, types.Row{"team": "RED"}, nil)
			if !types.IsKind(err, types.KindNotNullViolation) {
				t.Errorf("not null = %v", err)
			}

			deleted, err := playerRepo.Delete(ctx, filter.Where(filter.Element{"team": "RED"}), nil)
			if err != nil || len(deleted) != 2 {
				t.Errorf("delete = %v, %v", deleted, err)
			}
		})
	}
}
