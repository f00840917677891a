package p2p

import (
	"context"
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/peer"
)

// RootPeerProtocolID is the stream protocol spoken with the relay.
const RootPeerProtocolID = "/tribechat/rootpeer/1.0.0"

// sendRootPeerRequest opens a stream to the root peer, sends
// {method, params} and decodes the reply into out.
func (n *node) sendRootPeerRequest(ctx context.Context, pid peer.ID, method string, params any, out any) error {
	s, err := n.host.NewStream(ctx, pid, RootPeerProtocolID)
	if err != nil {
		return ErrNetworkFailure.WithDetails(err.Error())
	}
	defer s.Close()

	env := struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{method, params}

	if err := json.NewEncoder(s).Encode(env); err != nil {
		return ErrNetworkFailure.WithDetails(err.Error())
	}
	if err := json.NewDecoder(s).Decode(out); err != nil {
		return ErrNetworkFailure.WithDetails(err.Error())
	}
	return nil
}
