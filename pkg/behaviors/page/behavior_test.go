package page

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/container"
	"github.com/harvestman-flow/harvestman/pkg/events"
	"github.com/harvestman-flow/harvestman/pkg/log"
	"github.com/harvestman-flow/harvestman/pkg/session"
)

func TestNewFactory(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "page", factory.ID())
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name        string
		params      map[string]any
		expectError bool
	}{
		{
			name:        "missing url",
			params:      map[string]any{},
			expectError: true,
		},
		{
			name:        "nil params",
			params:      nil,
			expectError: true,
		},
		{
			name:        "url present",
			params:      map[string]any{"url": "https://example.com"},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			behavior, err := factory.Create(tt.params)

			if tt.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, &Behavior{}, behavior)
		})
	}
}

func TestNewBehavior_Defaults(t *testing.T) {
	b := NewBehavior(map[string]any{
		"url":             "https://example.com",
		"wait_for":        "#content",
		"wait_timeout_ms": float64(2500),
	})

	assert.Equal(t, "https://example.com", b.URL)
	assert.Equal(t, "#content", b.WaitFor)
	assert.Equal(t, 2500*time.Millisecond, b.WaitTimeout)

	assert.Equal(t, defaultWaitTimeout, NewBehavior(nil).WaitTimeout)
}

func TestBehavior_InitializeNavigatesAndEmits(t *testing.T) {
	ctx := context.Background()
	b := NewBehavior(map[string]any{"url": "https://example.com/listing", "wait_for": "#items"})
	c := container.New(container.Config{ID: "c-page", Logger: log.Discard()}, b)

	sess := session.NewScripted().
		StubNodes("#items", session.Node{Tag: "div"})

	var nav events.Navigation

	c.Bus().On(events.PageNavigated, func(ctx context.Context, evt bus.Event) error {
		nav, _ = evt.Payload.(events.Navigation)

		return nil
	})

	require.NoError(t, c.Initialize(ctx, sess))

	assert.Equal(t, []string{"https://example.com/listing"}, sess.Navigations())
	assert.Equal(t, "c-page", nav.ContainerID)
	assert.Equal(t, "https://example.com/listing", nav.URL)

	stats := c.Stats()
	assert.Equal(t, 1, stats["pages_visited"])
	assert.Equal(t, "https://example.com/listing", stats["current_url"])
}

func TestBehavior_NavigationFailureFailsContainer(t *testing.T) {
	ctx := context.Background()
	b := NewBehavior(map[string]any{"url": "https://example.com"})
	c := container.New(container.Config{ID: "c-page", Logger: log.Discard()}, b)

	sess := session.NewScripted().FailNavigation(errors.New("dns refused"))

	err := c.Initialize(ctx, sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to navigate")
	assert.Equal(t, container.StatusFailed, c.Status())
}

func TestBehavior_ExecutionResultIncludesURL(t *testing.T) {
	ctx := context.Background()
	b := NewBehavior(map[string]any{"url": "https://example.com"})
	c := container.New(container.Config{ID: "c-page", Logger: log.Discard()}, b)

	require.NoError(t, c.Initialize(ctx, session.NewScripted()))

	result := c.ExecutionResult()
	assert.Equal(t, "https://example.com", result["url"])
	assert.Equal(t, 1, result["pages_visited"])
}
