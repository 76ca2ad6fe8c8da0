package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection/conntest"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = connection.Identity{UserID: "u1", Username: "alice"}
	bob   = connection.Identity{UserID: "u2", Username: "bob"}
)

type hubFixture struct {
	hub    *Hub
	store  *countingStore
	mirror *recordingMirror
}

func newHubFixture(options Options) *hubFixture {
	return newHubFixtureWith(options, fakeVerifier{"alice-token": alice, "bob-token": bob})
}

func newHubFixtureWith(options Options, verifier Verifier) *hubFixture {
	if options.PingInterval == 0 {
		options.PingInterval = time.Hour
	}
	registry := connection.NewRegistry()
	store := newCountingStore()
	mirror := &recordingMirror{}
	hub := NewHub(options, registry, verifier, NewBroadcaster(registry, mirror), NewRouter(registry, store, newFakeBlobs()))
	return &hubFixture{hub: hub, store: store, mirror: mirror}
}

func (f *hubFixture) open(t *testing.T, credential string) (*connection.Connection, *conntest.Transport) {
	t.Helper()
	transport := conntest.NewTransport()
	conn := connection.NewConnection(transport, connection.Options{SendBuffer: 32, WriteTimeout: time.Second})
	require.NoError(t, f.hub.Open(conn, credential))
	t.Cleanup(func() { f.hub.Close(conn, nil) })
	return conn, transport
}

func online(identities ...connection.Identity) []protocol.OnlineUser {
	return toOnlineUsers(identities)
}

// sameUsers reports whether both snapshots hold the same users in any order.
func sameUsers(want, got []protocol.OnlineUser) bool {
	if len(want) != len(got) {
		return false
	}
	seen := make(map[protocol.OnlineUser]int, len(want))
	for _, user := range want {
		seen[user]++
	}
	for _, user := range got {
		if seen[user] == 0 {
			return false
		}
		seen[user]--
	}
	return true
}

func TestHubAnnouncesBoundUsers(t *testing.T) {
	f := newHubFixture(Options{})
	_, aliceTransport := f.open(t, "alice-token")
	_, bobTransport := f.open(t, "bob-token")

	want := online(alice, bob)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, lastPresence(t, bobTransport)) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, lastPresence(t, aliceTransport)) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, f.mirror.Last()) }, time.Second, 5*time.Millisecond)
}

func TestHubUnverifiedConnectionStaysOpenButInvisible(t *testing.T) {
	f := newHubFixture(Options{})
	anonymous, anonymousTransport := f.open(t, "forged")
	_, aliceTransport := f.open(t, "alice-token")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(online(alice), lastPresence(t, anonymousTransport))
	}, time.Second, 5*time.Millisecond)
	assert.False(t, anonymous.Bound())
	assert.False(t, anonymousTransport.IsClosed())
	assert.Equal(t, 2, f.hub.Registry().Len())

	for _, snapshot := range presenceFrames(t, aliceTransport) {
		assert.Subset(t, online(alice), snapshot)
	}
}

func TestHubCloseUnverified(t *testing.T) {
	f := newHubFixture(Options{CloseUnverified: true})
	_, transport := f.open(t, "")

	assert.Eventually(t, transport.IsClosed, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.hub.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubFirstAnnouncementPrecedesBind(t *testing.T) {
	verifier := &gatedVerifier{Verifier: fakeVerifier{"alice-token": alice}, release: make(chan struct{})}
	f := newHubFixtureWith(Options{}, verifier)
	_, transport := f.open(t, "alice-token")

	assert.Eventually(t, func() bool { return len(presenceFrames(t, transport)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, presenceFrames(t, transport)[0], "the open announcement is sent before verification")

	close(verifier.release)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(online(alice), lastPresence(t, transport))
	}, time.Second, 5*time.Millisecond)
}

func TestHubVoluntaryCloseReannounces(t *testing.T) {
	f := newHubFixture(Options{})
	bobConn, _ := f.open(t, "bob-token")
	_, aliceTransport := f.open(t, "alice-token")
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(online(bob, alice), lastPresence(t, aliceTransport))
	}, time.Second, 5*time.Millisecond)

	f.hub.Close(bobConn, nil)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(online(alice), lastPresence(t, aliceTransport))
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.hub.Registry().FindByUserID(bob.UserID))
}

func TestHubHeartbeatTimeoutEvicts(t *testing.T) {
	f := newHubFixture(Options{PingInterval: 10 * time.Millisecond, PongTimeout: 10 * time.Millisecond})
	_, silentTransport := f.open(t, "bob-token")

	assert.Eventually(t, silentTransport.IsClosed, time.Second, 5*time.Millisecond)
	assert.Positive(t, silentTransport.Pings())
	assert.Eventually(t, func() bool { return f.hub.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.mirror.Last()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubResponsivePeerIsNotEvicted(t *testing.T) {
	f := newHubFixture(Options{PingInterval: 10 * time.Millisecond, PongTimeout: 30 * time.Millisecond})
	conn, transport := f.open(t, "alice-token")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.hub.Pong(conn)
			}
		}
	}()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, transport.IsClosed())
	assert.Equal(t, 1, f.hub.Registry().Len())
}

func TestHubHandleMessageRoutesFromBoundIdentity(t *testing.T) {
	f := newHubFixture(Options{})
	aliceConn, _ := f.open(t, "alice-token")
	_, bobTransport := f.open(t, "bob-token")
	assert.Eventually(t, func() bool { return len(f.hub.Registry().OnlineSet()) == 2 }, time.Second, 5*time.Millisecond)

	err := f.hub.HandleMessage(context.Background(), aliceConn, []byte(`{"recipient":"u2","text":"hello","sender":"u9"}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, packet := range decodeFrames[protocol.DeliveryPacket](t, bobTransport) {
			if packet.Text == "hello" {
				return packet.Sender == alice.UserID && packet.Recipient == bob.UserID
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.hub.HandleMessage(context.Background(), aliceConn, []byte(`{"text":"no recipient"}`)), ErrMalformedEvent)
	assert.EqualValues(t, 1, f.store.creates.Load())
}

func TestHubShutdownClosesEverything(t *testing.T) {
	f := newHubFixture(Options{})
	_, first := f.open(t, "alice-token")
	_, second := f.open(t, "forged")

	require.NoError(t, f.hub.Shutdown(context.Background()))
	assert.True(t, first.IsClosed())
	assert.True(t, second.IsClosed())
	assert.Equal(t, 0, f.hub.Registry().Len())

	late := connection.NewConnection(conntest.NewTransport(), connection.Options{})
	assert.ErrorIs(t, f.hub.Open(late, "alice-token"), ErrRelayShutdown)
}

func TestHubSlowReaderSurvivesPresenceBurst(t *testing.T) {
	const users = 24
	verifier := fakeVerifier{}
	for i := 0; i < users; i++ {
		verifier[fmt.Sprintf("user-%d-token", i)] = connection.Identity{UserID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("user%d", i)}
	}
	f := newHubFixtureWith(Options{}, verifier)

	slowTransport := conntest.NewTransport()
	slowTransport.Delay = 2 * time.Millisecond
	slow := connection.NewConnection(slowTransport, connection.Options{SendBuffer: 4, WriteTimeout: time.Second})
	require.NoError(t, f.hub.Open(slow, "forged"))
	t.Cleanup(func() { f.hub.Close(slow, nil) })

	for i := 0; i < users; i++ {
		f.open(t, fmt.Sprintf("user-%d-token", i))
	}

	assert.Eventually(t, func() bool { return len(f.hub.Registry().OnlineSet()) == users }, 2*time.Second, 5*time.Millisecond)
	want := toOnlineUsers(f.hub.Registry().OnlineSet())
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, lastPresence(t, slowTransport))
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, slowTransport.IsClosed())
	_, registered := f.hub.Registry().Get(slow.ID)
	assert.True(t, registered)
}

func TestHubChurnSettles(t *testing.T) {
	const (
		workers    = 8
		iterations = 40
	)
	verifier := fakeVerifier{}
	survivors := make([]connection.Identity, workers)
	for w := 0; w < workers; w++ {
		survivors[w] = connection.Identity{UserID: fmt.Sprintf("s%d", w), Username: fmt.Sprintf("survivor%d", w)}
		verifier[fmt.Sprintf("survivor-%d-token", w)] = survivors[w]
		verifier[fmt.Sprintf("churn-%d-token", w)] = connection.Identity{UserID: fmt.Sprintf("c%d", w), Username: fmt.Sprintf("churn%d", w)}
	}
	f := newHubFixtureWith(Options{PingInterval: 5 * time.Millisecond, PongTimeout: 100 * time.Millisecond}, verifier)

	stop := make(chan struct{})
	var keepers sync.WaitGroup
	t.Cleanup(func() {
		close(stop)
		keepers.Wait()
		_ = f.hub.Shutdown(context.Background())
	})
	keepAlive := func(conn *connection.Connection) {
		keepers.Add(1)
		go func() {
			defer keepers.Done()
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					f.hub.Pong(conn)
				}
			}
		}()
	}
	dial := func(credential string) (*connection.Connection, *conntest.Transport, error) {
		transport := conntest.NewTransport()
		conn := connection.NewConnection(transport, connection.Options{SendBuffer: 32, WriteTimeout: time.Second})
		return conn, transport, f.hub.Open(conn, credential)
	}

	var mu sync.Mutex
	var survivorTransports []*conntest.Transport
	var workersDone sync.WaitGroup
	for w := 0; w < workers; w++ {
		workersDone.Add(1)
		go func(w int) {
			defer workersDone.Done()
			for i := 0; i < iterations; i++ {
				credential := fmt.Sprintf("churn-%d-token", w)
				if i%4 == 3 {
					credential = "forged"
				}
				conn, _, err := dial(credential)
				if !assert.NoError(t, err) {
					return
				}
				switch i % 3 {
				case 0:
					f.hub.Close(conn, nil)
				case 1:
					f.hub.Pong(conn)
					time.Sleep(time.Millisecond)
					f.hub.Pong(conn)
					f.hub.Close(conn, nil)
				default:
					// left silent for the heartbeat to reap
				}
			}
			conn, transport, err := dial(fmt.Sprintf("survivor-%d-token", w))
			if !assert.NoError(t, err) {
				return
			}
			keepAlive(conn)
			mu.Lock()
			survivorTransports = append(survivorTransports, transport)
			mu.Unlock()
		}(w)
	}
	workersDone.Wait()

	registry := f.hub.Registry()
	assert.Eventually(t, func() bool { return registry.Len() == workers }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(registry.OnlineSet()) == workers }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, survivors, registry.OnlineSet())

	want := online(survivors...)
	assert.Eventually(t, func() bool { return sameUsers(want, f.mirror.Last()) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, survivorTransports, workers)
	for _, transport := range survivorTransports {
		assert.False(t, transport.IsClosed())
		assert.Eventually(t, func() bool { return sameUsers(want, lastPresence(t, transport)) }, time.Second, 5*time.Millisecond)
	}
}

func TestHubShutdownRacingOpen(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newHubFixture(Options{})
		start := make(chan struct{})
		transports := make([]*conntest.Transport, 16)
		var wg sync.WaitGroup
		for i := range transports {
			transports[i] = conntest.NewTransport()
			conn := connection.NewConnection(transports[i], connection.Options{SendBuffer: 8, WriteTimeout: time.Second})
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := f.hub.Open(conn, "alice-token"); err != nil {
					assert.ErrorIs(t, err, ErrRelayShutdown)
				}
			}()
		}

		close(start)
		require.NoError(t, f.hub.Shutdown(context.Background()))
		wg.Wait()

		for _, transport := range transports {
			assert.True(t, transport.IsClosed())
		}
		assert.Equal(t, 0, f.hub.Registry().Len())
		assert.Empty(t, f.hub.Registry().OnlineSet())
	}
}
