// Package protocol defines the JSON envelopes exchanged over the relay WebSocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedEvent = errors.New("malformed inbound event")
	ErrInvalidDataURI = errors.New("invalid data uri")
)

// FilePayload is an attachment sent inline by the client.
type FilePayload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// InboundEvent is the client to server message envelope.
type InboundEvent struct {
	Recipient string       `json:"recipient"`
	Text      string       `json:"text"`
	File      *FilePayload `json:"file"`
}

func (e *InboundEvent) HasFile() bool {
	return e.File != nil && e.File.Data != ""
}

// Valid reports whether the event names a recipient and carries text or a file.
func (e *InboundEvent) Valid() bool {
	return e.Recipient != "" && (e.Text != "" || e.HasFile())
}

// ParseInboundEvent decodes a client frame. Frames that do not decode or fail Valid
// are reported as ErrMalformedEvent.
func ParseInboundEvent(data []byte) (*InboundEvent, error) {
	var event InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if !event.Valid() {
		return &event, ErrMalformedEvent
	}
	return &event, nil
}

// DecodeDataURI returns the bytes of a base64 data URI such as "data:image/png;base64,AAAA".
func DecodeDataURI(uri string) ([]byte, error) {
	_, payload, found := strings.Cut(uri, ",")
	if !found {
		return nil, ErrInvalidDataURI
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
	}
	return decoded, nil
}

type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresencePacket is the full online-set snapshot pushed to every connection.
type PresencePacket struct {
	Online []OnlineUser `json:"online"`
}

func NewPresencePacket(online []OnlineUser) *PresencePacket {
	if online == nil {
		online = []OnlineUser{}
	}
	return &PresencePacket{Online: online}
}

func (p *PresencePacket) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DeliveryPacket is a persisted message forwarded to the recipient.
type DeliveryPacket struct {
	Text      string `json:"text,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	File      string `json:"file,omitempty"`
	ID        string `json:"_id"`
}

func NewDeliveryPacket(id, sender, recipient, text, file string) *DeliveryPacket {
	return &DeliveryPacket{
		Text:      text,
		Sender:    sender,
		Recipient: recipient,
		File:      file,
		ID:        id,
	}
}

func (p *DeliveryPacket) Encode() ([]byte, error) {
	return json.Marshal(p)
}
