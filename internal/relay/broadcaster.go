package relay

import (
	"sync"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
)

// PresenceMirror receives every online-set snapshot the broadcaster sends.
type PresenceMirror interface {
	Offer(online []protocol.OnlineUser)
}

// Broadcaster pushes the full online set to every live connection.
// Announcements are serialized so that every connection observes snapshots in the same order.
type Broadcaster struct {
	mu       sync.Mutex
	registry *connection.Registry
	mirror   PresenceMirror
}

func NewBroadcaster(registry *connection.Registry, mirror PresenceMirror) *Broadcaster {
	return &Broadcaster{registry: registry, mirror: mirror}
}

func toOnlineUsers(identities []connection.Identity) []protocol.OnlineUser {
	online := make([]protocol.OnlineUser, 0, len(identities))
	for _, identity := range identities {
		online = append(online, protocol.OnlineUser{UserID: identity.UserID, Username: identity.Username})
	}
	return online
}

// Announce returns the number of connections the snapshot was handed to.
func (b *Broadcaster) Announce() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, identities := b.registry.Snapshot()
	online := toOnlineUsers(identities)
	data, err := protocol.NewPresencePacket(online).Encode()
	if err != nil {
		logger.ErrorF("Fail to encode presence packet: %v", err)
		return 0
	}

	sent := 0
	for _, conn := range members {
		if err := conn.SetPresence(data); err != nil {
			logger.DebugF("[%s] Presence not queued: %v", conn.ID, err)
			continue
		}
		sent++
	}
	logger.DebugF("Presence announced: %d online, %d connections", len(online), sent)

	if b.mirror != nil {
		b.mirror.Offer(online)
	}
	return sent
}
