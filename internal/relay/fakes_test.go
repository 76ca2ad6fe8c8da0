package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection/conntest"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
	"github.com/stretchr/testify/require"
)

type fakeVerifier map[string]connection.Identity

func (f fakeVerifier) Verify(_ context.Context, credential string) (connection.Identity, error) {
	identity, ok := f[credential]
	if !ok {
		return connection.Identity{}, ErrInvalidCredential
	}
	return identity, nil
}

// gatedVerifier holds every verification until release is closed.
type gatedVerifier struct {
	Verifier
	release chan struct{}
}

func (g *gatedVerifier) Verify(ctx context.Context, credential string) (connection.Identity, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return connection.Identity{}, ctx.Err()
	}
	return g.Verifier.Verify(ctx, credential)
}

type countingStore struct {
	database.MessageStore
	creates atomic.Int32
	fail    bool
}

func newCountingStore() *countingStore {
	return &countingStore{MessageStore: database.NewMemoryMessageStore()}
}

func (s *countingStore) Create(ctx context.Context, message database.NewMessage) (*database.Message, error) {
	s.creates.Add(1)
	if s.fail {
		return nil, errors.New("connection refused")
	}
	return s.MessageStore.Create(ctx, message)
}

type fakeBlobs struct {
	mu     sync.Mutex
	writes map[string][]byte
	next   int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{writes: make(map[string][]byte)}
}

func (f *fakeBlobs) StorageName(original string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fmt.Sprintf("blob-%d-%s", f.next, original)
}

func (f *fakeBlobs) Write(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[name] = data
	return nil
}

func (f *fakeBlobs) Get(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.writes[name]
	return data, ok
}

type recordingMirror struct {
	mu        sync.Mutex
	snapshots [][]protocol.OnlineUser
}

func (m *recordingMirror) Offer(online []protocol.OnlineUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, online)
}

func (m *recordingMirror) Last() []protocol.OnlineUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return nil
	}
	return m.snapshots[len(m.snapshots)-1]
}

func newLiveConnection(t *testing.T) (*connection.Connection, *conntest.Transport) {
	t.Helper()
	transport := conntest.NewTransport()
	conn := connection.NewConnection(transport, connection.Options{SendBuffer: 32, WriteTimeout: time.Second})
	conn.Start()
	t.Cleanup(conn.Close)
	return conn, transport
}

func decodeFrames[T any](t *testing.T, transport *conntest.Transport) []T {
	t.Helper()
	var result []T
	for _, frame := range transport.Messages() {
		var packet T
		require.NoError(t, json.Unmarshal(frame, &packet))
		result = append(result, packet)
	}
	return result
}

// presenceFrames returns only the presence snapshots written to transport.
func presenceFrames(t *testing.T, transport *conntest.Transport) [][]protocol.OnlineUser {
	t.Helper()
	var result [][]protocol.OnlineUser
	for _, frame := range transport.Messages() {
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(frame, &raw))
		if _, ok := raw["online"]; !ok {
			continue
		}
		var packet protocol.PresencePacket
		require.NoError(t, json.Unmarshal(frame, &packet))
		result = append(result, packet.Online)
	}
	return result
}

func lastPresence(t *testing.T, transport *conntest.Transport) []protocol.OnlineUser {
	frames := presenceFrames(t, transport)
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}
