package p2p

import "fmt"

// Topic namespace root
const topicRoot = "/tribechat"

// RoomTopic is the encrypted message stream for a room.
func RoomTopic(roomID string) string {
	return fmt.Sprintf("%s/rooms/%s/chat", topicRoot, roomID)
}

// AnnounceTopic carries the root peer's signed announcements for a
// discovery namespace.
func AnnounceTopic(namespace string) string {
	return fmt.Sprintf("%s/rootpeer/%s/announce", topicRoot, namespace)
}

// RendezvousString is the DHT rendezvous under which the root peer
// advertises itself.
func RendezvousString(namespace string) string {
	return fmt.Sprintf("%s/rendezvous/%s", topicRoot, namespace)
}
