package p2p_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tribechat/internal/crypto"
	"tribechat/internal/models"
	"tribechat/internal/p2p"
)

func TestAnnounceSignVerify(t *testing.T) {
	keys, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	ann := &models.RootPeerAnnounce{
		PeerID:    "12D3KooWExample",
		Addrs:     []string{"/ip4/127.0.0.1/tcp/4001"},
		Timestamp: 1700000000000,
	}
	require.NoError(t, p2p.SignAnnounce(ann, keys.SecretKey))
	require.NotEmpty(t, ann.Signature)
	require.True(t, p2p.VerifyAnnounce(ann, keys.PublicKey))
}

func TestAnnounceVerifyRejects(t *testing.T) {
	keys, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)

	ann := &models.RootPeerAnnounce{
		PeerID:    "12D3KooWExample",
		Addrs:     []string{"/ip4/127.0.0.1/tcp/4001"},
		Timestamp: 1700000000000,
	}
	require.NoError(t, p2p.SignAnnounce(ann, keys.SecretKey))

	t.Run("Wrong key", func(t *testing.T) {
		require.False(t, p2p.VerifyAnnounce(ann, other.PublicKey))
	})
	t.Run("Tampered payload", func(t *testing.T) {
		tampered := *ann
		tampered.Addrs = []string{"/ip4/6.6.6.6/tcp/4001"}
		require.False(t, p2p.VerifyAnnounce(&tampered, keys.PublicKey))
	})
	t.Run("Missing signature", func(t *testing.T) {
		unsigned := *ann
		unsigned.Signature = ""
		require.False(t, p2p.VerifyAnnounce(&unsigned, keys.PublicKey))
	})
}

func TestTopicNames(t *testing.T) {
	require.Equal(t, "/tribechat/rooms/abc/chat", p2p.RoomTopic("abc"))
	require.Equal(t, "/tribechat/rootpeer/ns/announce", p2p.AnnounceTopic("ns"))
	require.Equal(t, "/tribechat/rendezvous/ns", p2p.RendezvousString("ns"))
}
