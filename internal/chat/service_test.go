package chat_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tribechat/internal/chat"
	"tribechat/internal/config"
	"tribechat/internal/logger"
	"tribechat/internal/models"
)

func TestServiceLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "session.db")
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	svc := chat.NewService(cfg, logger.Nop())
	ctx := context.Background()

	require.Nil(t, svc.Adapter(), "no adapter before Init")
	require.NoError(t, svc.Init(ctx, seedFor(t), models.Profile{Name: "alice"}))
	require.NotNil(t, svc.Adapter())

	// second Init is a no-op
	adapter := svc.Adapter()
	require.NoError(t, svc.Init(ctx, seedFor(t), models.Profile{Name: "alice"}))
	require.Same(t, adapter, svc.Adapter())

	room, err := svc.Adapter().CreateRoom(ctx, "general", models.RoomTypeGroup, "", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, room.RoomID)

	require.NoError(t, svc.Reset(ctx))
	require.Nil(t, svc.Adapter())
	require.NoError(t, svc.Reset(ctx), "reset is idempotent")
}
