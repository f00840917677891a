package models

// KeyPair is the long-lived identity signing keypair, hex encoded.
// Owned by the network manager; read-only everywhere else.
type KeyPair struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// Profile is the local user's presentation, announced on room join.
type Profile struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Peer is a directory entry for a known peer, independent of any room.
type Peer struct {
	PeerID    string `json:"peerId"`
	PeerName  string `json:"peerName,omitempty"`
	PeerImage string `json:"peerImage,omitempty"`
}
