//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

// setupTestDB creates a test PostgreSQL database for testing.
func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx := context.Background()

	// Use existing container if available and running
	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("harvestman_test"),
			postgres.WithUsername("harvestman"),
			postgres.WithPassword("harvestman"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	t.Cleanup(func() {
		err := p.Close(ctx)
		require.NoError(t, err)
	})

	return p, ctx, databaseURL
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	ctx := context.Background()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	for _, table := range []string{"instance_tasks", "workflow_instances", "rule_evaluations"} {
		_, err = db.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err)
	}
}

func makeInstance(name string) *models.Instance {
	return &models.Instance{
		ID:     uuid.New().String(),
		Name:   name,
		Status: models.InstanceStatusPending,
		Tasks: []*models.Task{
			{
				ID:      "visit",
				Name:    "Visit page",
				Type:    models.TaskTypeContainer,
				Target:  "page",
				Action:  "navigate",
				Params:  map[string]any{"url": "https://example.com"},
				Retries: 2,
				Status:  models.TaskStatusPending,
			},
			{
				ID:     "settle",
				Type:   models.TaskTypeSystem,
				Action: models.SystemActionDelay,
				Params: map[string]any{"duration_ms": float64(50)},
				Status: models.TaskStatusPending,
			},
		},
		Metadata:  map[string]any{"site": "example.com"},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_instances", "instance_tasks", "rule_evaluations", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestPersistence_SaveAndGetInstance(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instance := makeInstance("crawl-catalog")
	require.NoError(t, p.SaveInstance(ctx, instance))

	loaded, err := p.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)

	assert.Equal(t, instance.ID, loaded.ID)
	assert.Equal(t, "crawl-catalog", loaded.Name)
	assert.Equal(t, models.InstanceStatusPending, loaded.Status)
	assert.Equal(t, map[string]any{"site": "example.com"}, loaded.Metadata)

	require.Len(t, loaded.Tasks, 2)
	assert.Equal(t, "visit", loaded.Tasks[0].ID, "task order must survive the round trip")
	assert.Equal(t, "settle", loaded.Tasks[1].ID)
	assert.Equal(t, models.TaskTypeContainer, loaded.Tasks[0].Type)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, loaded.Tasks[0].Params)
	assert.Equal(t, 2, loaded.Tasks[0].Retries)
}

func TestPersistence_GetMissingInstance(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.InstanceByID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestPersistence_SaveReplacesTasks(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instance := makeInstance("crawl-update")
	require.NoError(t, p.SaveInstance(ctx, instance))

	now := time.Now().UTC().Truncate(time.Millisecond)
	instance.Status = models.InstanceStatusRunning
	instance.StartedAt = &now
	instance.Tasks[0].Status = models.TaskStatusCompleted
	instance.Tasks[0].Result = map[string]any{"pages_visited": float64(1)}
	require.NoError(t, p.SaveInstance(ctx, instance))

	loaded, err := p.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRunning, loaded.Status)
	require.NotNil(t, loaded.StartedAt)
	assert.Equal(t, models.TaskStatusCompleted, loaded.Tasks[0].Status)
	assert.Equal(t, map[string]any{"pages_visited": float64(1)}, loaded.Tasks[0].Result)
}

func TestPersistence_InstancesNewestFirst(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	older := makeInstance("older")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := makeInstance("newer")
	newer.CreatedAt = time.Now().UTC()

	require.NoError(t, p.SaveInstance(ctx, older))
	require.NoError(t, p.SaveInstance(ctx, newer))

	instances, err := p.Instances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "newer", instances[0].Name)
	assert.Equal(t, "older", instances[1].Name)
}

func TestPersistence_Evaluations(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	records := []*models.RuleEvaluation{
		{RuleID: "rule-a", Event: "page:navigated", Source: "c-1", ConditionMet: true, Success: true, DurationMs: 3, EvaluatedAt: base},
		{RuleID: "rule-b", Event: "link:collected", ConditionMet: false, Success: true, DurationMs: 1, EvaluatedAt: base.Add(time.Minute)},
		{RuleID: "rule-a", Event: "page:navigated", ConditionMet: true, Success: false, Error: "boom", DurationMs: 7, EvaluatedAt: base.Add(2 * time.Minute)},
	}

	for _, record := range records {
		require.NoError(t, p.SaveEvaluation(ctx, record))
		assert.NotEmpty(t, record.ID, "save should assign an id")
	}

	all, err := p.Evaluations(ctx, models.EvaluationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rule-a", all[0].RuleID)
	assert.False(t, all[0].Success)
	assert.Equal(t, "boom", all[0].Error)

	byRule, err := p.Evaluations(ctx, models.EvaluationFilter{RuleID: "rule-a"})
	require.NoError(t, err)
	assert.Len(t, byRule, 2)

	since, err := p.Evaluations(ctx, models.EvaluationFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := p.Evaluations(ctx, models.EvaluationFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(7), limited[0].DurationMs)
}
