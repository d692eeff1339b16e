package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestman-flow/harvestman/pkg/behaviors/link"
	"github.com/harvestman-flow/harvestman/pkg/behaviors/page"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/models"
)

func TestRegistry_Behaviors(t *testing.T) {
	r := NewRegistry(log.Discard())
	r.RegisterBehavior(page.NewFactory())
	r.RegisterBehavior(link.NewFactory())

	behavior, err := r.CreateBehavior("page", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.NotNil(t, behavior)

	_, err = r.CreateBehavior("unknown", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	assert.Equal(t, []string{"link", "page"}, r.AvailableBehaviors())
}

func TestRegistry_TaskHandlers(t *testing.T) {
	r := NewRegistry(log.Discard())

	r.RegisterTaskHandler("echo", func(_ context.Context, task *models.Task, _ *slog.Logger) (map[string]any, error) {
		return map[string]any{"echo": task.Params["msg"]}, nil
	})

	handler, err := r.TaskHandler("echo")
	require.NoError(t, err)

	result, err := handler(context.Background(), &models.Task{Params: map[string]any{"msg": "hi"}}, log.Discard())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hi"}, result)

	_, err = r.TaskHandler("missing")
	require.Error(t, err)
}
