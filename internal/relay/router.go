package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/protocol"
)

// BlobStore is where attachment bytes are handed off.
type BlobStore interface {
	StorageName(original string) string
	Write(ctx context.Context, name string, data []byte) error
}

// Router validates inbound events, persists them once and fans them out to the
// recipient's bound connections.
type Router struct {
	registry     *connection.Registry
	store        database.MessageStore
	blobs        BlobStore
	blobTimeout  time.Duration
	pendingBlobs sync.WaitGroup
}

func NewRouter(registry *connection.Registry, store database.MessageStore, blobs BlobStore) *Router {
	return &Router{
		registry:    registry,
		store:       store,
		blobs:       blobs,
		blobTimeout: 30 * time.Second,
	}
}

// HandleInbound returns the persisted message. Malformed events and unbound senders are
// rejected before anything is stored.
func (r *Router) HandleInbound(ctx context.Context, conn *connection.Connection, event *protocol.InboundEvent) (*database.Message, error) {
	if event == nil || !event.Valid() {
		return nil, ErrMalformedEvent
	}
	sender, ok := conn.Identity()
	if !ok {
		return nil, ErrUnboundSender
	}

	fileName := ""
	if event.HasFile() {
		if r.blobs == nil {
			return nil, fmt.Errorf("%w: attachments are disabled", ErrMalformedEvent)
		}
		data, err := protocol.DecodeDataURI(event.File.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		fileName = r.blobs.StorageName(event.File.Name)
		r.handoff(conn.ID, fileName, data)
	}

	message, err := r.store.Create(ctx, database.NewMessage{
		Sender:    sender.UserID,
		Recipient: event.Recipient,
		Text:      event.Text,
		File:      fileName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	delivered := r.deliver(message)
	logger.DebugF("[%s] Message %s relayed to %s, %d live connections", conn.ID, message.ID.Hex(), message.Recipient, delivered)
	return message, nil
}

func (r *Router) deliver(message *database.Message) int {
	targets := r.registry.FindByUserID(message.Recipient)
	if len(targets) == 0 {
		return 0
	}
	data, err := protocol.NewDeliveryPacket(message.ID.Hex(), message.Sender, message.Recipient, message.Text, message.File).Encode()
	if err != nil {
		logger.ErrorF("Fail to encode delivery packet: %v", err)
		return 0
	}
	delivered := 0
	for _, target := range targets {
		if err := target.Enqueue(data); err != nil {
			logger.DebugF("[%s] Delivery not queued: %v", target.ID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// handoff writes the blob in the background; the message record does not wait for it.
func (r *Router) handoff(connID, name string, data []byte) {
	r.pendingBlobs.Add(1)
	go func() {
		defer r.pendingBlobs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.blobTimeout)
		defer cancel()
		if err := r.blobs.Write(ctx, name, data); err != nil {
			logger.ErrorF("[%s] Blob write failure for %s: %v", connID, name, err)
		}
	}()
}

// WaitBlobs blocks until in-flight blob writes finish or ctx is done.
func (r *Router) WaitBlobs(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pendingBlobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("blob writes still pending"), ctx.Err())
	}
}
