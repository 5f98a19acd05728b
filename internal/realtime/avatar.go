package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// AvatarClient owns one outbound connection to the avatar lip-sync endpoint.
// The socket address already embeds whatever credential the renderer needs.
type AvatarClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan AvatarEvent
}

// DialAvatar opens the avatar-renderer socket. Errors here are recoverable:
// the caller degrades to a no-lip-sync session.
func DialAvatar(ctx context.Context, socketURL string) (*AvatarClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, err
	}
	c := &AvatarClient{conn: conn, events: make(chan AvatarEvent, 64)}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded inbound frames. Closed when the connection ends.
func (c *AvatarClient) Events() <-chan AvatarEvent { return c.events }

// Speak sends one synthesized audio chunk for lip-sync, tagged with a
// monotonically increasing event id the renderer uses to sequence audio.
func (c *AvatarClient) Speak(audioBase64, eventID string) error {
	return c.writeJSON(agentSpeakMessage{Type: typeAgentSpeak, EventID: eventID, Audio: audioBase64})
}

// SpeakEnd tells the renderer the current utterance is complete.
func (c *AvatarClient) SpeakEnd(eventID string) error {
	return c.writeJSON(agentSpeakMessage{Type: typeAgentSpeakEnd, EventID: eventID})
}

// Interrupt tells the renderer to stop in-flight playback immediately
// (barge-in: the human started talking over the avatar).
func (c *AvatarClient) Interrupt(eventID string) error {
	return c.writeJSON(agentSpeakMessage{Type: typeAgentInterrupt, EventID: eventID})
}

func (c *AvatarClient) writeJSON(msg agentSpeakMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *AvatarClient) readLoop() {
	defer c.safeClose()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := ParseAvatarEvent(data)
		if err != nil {
			log.Printf("avatar: dropped unparseable frame: %v", err)
			continue
		}
		c.events <- ev
	}
}

// Close shuts the socket down. Idempotent.
func (c *AvatarClient) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *AvatarClient) safeClose() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	close(c.events)
}
