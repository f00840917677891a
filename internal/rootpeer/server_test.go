package rootpeer_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"tribechat/internal/crypto"
	"tribechat/internal/logger"
	"tribechat/internal/models"
	"tribechat/internal/p2p"
	"tribechat/internal/rootpeer"
)

func startTestServer(t *testing.T) *rootpeer.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	identity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	store, err := rootpeer.OpenLog(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := rootpeer.NewServer(ctx, rootpeer.ServerConfig{
		ListenAddrs:        []string{"/ip4/127.0.0.1/tcp/0"},
		DiscoveryNamespace: "test",
		Identity:           identity,
	}, store, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newTestClient(t *testing.T) (host.Host, context.Context) {
	t.Helper()
	ctx := context.Background()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, ctx
}

// helper: send one RPC and decode the reply
func sendRPC[T any, U any](t *testing.T, ctx context.Context, h host.Host, addr string, method string, params T, out *U) {
	t.Helper()
	pi, err := peer.AddrInfoFromString(addr)
	require.NoError(t, err)
	require.NoError(t, h.Connect(ctx, *pi))
	s, err := h.NewStream(ctx, pi.ID, p2p.RootPeerProtocolID)
	require.NoError(t, err)
	defer s.Close()

	env := struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{method, params}
	require.NoError(t, json.NewEncoder(s).Encode(env))
	require.NoError(t, json.NewDecoder(s).Decode(out))
}

func TestServerRPC(t *testing.T) {
	srv := startTestServer(t)
	client, ctx := newTestClient(t)
	addr := srv.Addrs()[0]

	// 1) RegisterRoom
	var regResp models.RegisterRoomResponse
	sendRPC(t, ctx, client, addr, "RegisterRoom", models.RegisterRoomRequest{RoomID: "room-1"}, &regResp)
	require.True(t, regResp.Success, "register failed: %s", regResp.Error)

	// 2) StoreMessage assigns index 1
	var storeResp models.StoreMessageResponse
	sendRPC(t, ctx, client, addr, "StoreMessage", models.StoreMessageRequest{
		Envelope: models.CipherEnvelope{MessageID: "m1", RoomID: "room-1", Ciphertext: "ct1", Timestamp: 1},
	}, &storeResp)
	require.True(t, storeResp.Success, "store failed: %s", storeResp.Error)
	require.Equal(t, uint64(1), storeResp.Index)

	// 3) duplicate submission keeps the original index
	sendRPC(t, ctx, client, addr, "StoreMessage", models.StoreMessageRequest{
		Envelope: models.CipherEnvelope{MessageID: "m1", RoomID: "room-1", Ciphertext: "ct1", Timestamp: 1},
	}, &storeResp)
	require.Equal(t, uint64(1), storeResp.Index)

	// 4) a second message advances the sequence
	sendRPC(t, ctx, client, addr, "StoreMessage", models.StoreMessageRequest{
		Envelope: models.CipherEnvelope{MessageID: "m2", RoomID: "room-1", Ciphertext: "ct2", Timestamp: 2},
	}, &storeResp)
	require.Equal(t, uint64(2), storeResp.Index)

	// 5) Sync from zero returns both, in order
	var syncResp models.SyncResponse
	sendRPC(t, ctx, client, addr, "Sync", models.SyncRequest{RoomID: "room-1", LastIndex: 0}, &syncResp)
	require.Empty(t, syncResp.Error)
	require.Len(t, syncResp.Messages, 2)
	require.Equal(t, "m1", syncResp.Messages[0].MessageID)
	require.Equal(t, "m2", syncResp.Messages[1].MessageID)
	require.Equal(t, uint64(2), syncResp.LastIndex)

	// 6) Sync from the tip returns nothing new
	sendRPC(t, ctx, client, addr, "Sync", models.SyncRequest{RoomID: "room-1", LastIndex: 2}, &syncResp)
	require.Empty(t, syncResp.Messages)
	require.Equal(t, uint64(2), syncResp.LastIndex)
}

func TestServerStoreImplicitlyRegisters(t *testing.T) {
	srv := startTestServer(t)
	client, ctx := newTestClient(t)
	addr := srv.Addrs()[0]

	// no RegisterRoom first: StoreMessage must still work
	var storeResp models.StoreMessageResponse
	sendRPC(t, ctx, client, addr, "StoreMessage", models.StoreMessageRequest{
		Envelope: models.CipherEnvelope{MessageID: "m1", RoomID: "fresh-room", Ciphertext: "ct", Timestamp: 1},
	}, &storeResp)
	require.True(t, storeResp.Success, "store failed: %s", storeResp.Error)
	require.Equal(t, uint64(1), storeResp.Index)
}
