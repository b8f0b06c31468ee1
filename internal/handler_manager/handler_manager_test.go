package handler_manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minhyannv/taskflow/internal/models"
	"github.com/minhyannv/taskflow/internal/task"
)

func echo(_ context.Context, payload string) (interface{}, error) { return "echo:" + payload, nil }

func TestHandlerManager_RegisterAndBind(t *testing.T) {
	hm := NewHandlerManager(zap.NewNop())

	require.NoError(t, hm.RegisterHandler("price", echo))
	require.NoError(t, hm.RegisterBlockingHandler("report", echo))
	assert.ErrorIs(t, hm.RegisterHandler("", echo), models.ErrValidation)
	assert.ErrorIs(t, hm.RegisterHandler("x", nil), models.ErrValidation)

	assert.Equal(t, []string{"price", "report"}, hm.ListHandlers())
	assert.Equal(t, 2, hm.GetHandlerCount())
	assert.True(t, hm.HasHandler("price"))

	work, err := hm.Bind("price", "BTC")
	require.NoError(t, err)
	assert.False(t, task.IsBlocking(work))
	res, err := work.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo:BTC", res)

	work, err = hm.Bind("report", "daily")
	require.NoError(t, err)
	assert.True(t, task.IsBlocking(work))

	_, err = hm.Bind("missing", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHandlerManager_OverwriteAndUnregister(t *testing.T) {
	hm := NewHandlerManager(zap.NewNop())
	require.NoError(t, hm.RegisterHandler("h", echo))
	require.NoError(t, hm.RegisterHandler("h", func(context.Context, string) (interface{}, error) { return 2, nil }))

	h, ok := hm.GetHandler("h")
	require.True(t, ok)
	res, _ := h(context.Background(), "")
	assert.Equal(t, 2, res)

	require.NoError(t, hm.UnregisterHandler("h"))
	assert.ErrorIs(t, hm.UnregisterHandler("h"), models.ErrNotFound)
	assert.False(t, hm.HasHandler("h"))
}
