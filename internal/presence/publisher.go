// Package presence mirrors the relay's online set to an external store.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
)

type Sink interface {
	Publish(ctx context.Context, online []protocol.OnlineUser) error
	Close() error
}

// Publisher forwards snapshots to a Sink from a single goroutine. Only the newest
// pending snapshot is kept, so a slow sink never holds up the relay.
type Publisher struct {
	sink    Sink
	pending chan []protocol.OnlineUser
	done    chan struct{}
	refresh time.Duration
	timeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewPublisher re-publishes the last snapshot every refresh interval when refresh is positive.
func NewPublisher(sink Sink, refresh time.Duration) *Publisher {
	return &Publisher{
		sink:    sink,
		pending: make(chan []protocol.OnlineUser, 1),
		done:    make(chan struct{}),
		refresh: refresh,
		timeout: 5 * time.Second,
	}
}

func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Offer replaces any snapshot that has not been published yet.
func (p *Publisher) Offer(online []protocol.OnlineUser) {
	for {
		select {
		case p.pending <- online:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	var refresh <-chan time.Time
	if p.refresh > 0 {
		ticker := time.NewTicker(p.refresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	var last []protocol.OnlineUser
	published := false
	for {
		select {
		case <-p.done:
			return
		case online := <-p.pending:
			last = online
			published = true
			p.publish(online)
		case <-refresh:
			if published {
				p.publish(last)
			}
		}
	}
}

func (p *Publisher) publish(online []protocol.OnlineUser) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.Publish(ctx, online); err != nil {
		logger.WarnF("Fail to mirror presence snapshot: %v", err)
		return
	}
	logger.DebugF("Presence snapshot mirrored, %d users", len(online))
}

// Invoke stops the publisher and closes the sink.
func (p *Publisher) Invoke(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	logger.Info("Closing presence mirror")
	return p.sink.Close()
}
