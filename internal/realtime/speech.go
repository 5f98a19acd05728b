package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// SpeechConfig addresses the speech-model realtime endpoint.
type SpeechConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// SpeechClient owns one outbound realtime connection to the speech-model
// endpoint. All writes go through writeMu so the socket has a single writer.
type SpeechClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan SpeechEvent
}

// DialSpeech opens the speech-model socket. A failed handshake is fatal for
// the session and comes back as *UpstreamConnectError; callers must not
// retry it automatically.
func DialSpeech(ctx context.Context, cfg SpeechConfig) (*SpeechClient, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "wss://api.openai.com/v1/realtime"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, &UpstreamConnectError{Upstream: "speech", Err: err}
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, &UpstreamConnectError{Upstream: "speech", Err: err}
	}

	c := &SpeechClient{conn: conn, events: make(chan SpeechEvent, 256)}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded inbound frames in arrival order. The channel is
// closed when the connection is lost or the client is closed.
func (c *SpeechClient) Events() <-chan SpeechEvent { return c.events }

// SendConfig transmits the session configuration message. It must be sent
// exactly once, right after the connection opens and before any audio.
func (c *SpeechClient) SendConfig(cfg SessionConfig) error {
	payload, err := encodeSessionConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	return c.write(payload)
}

// Forward transmits one raw client frame verbatim.
func (c *SpeechClient) Forward(raw []byte) error {
	return c.write(raw)
}

// AppendAudio forwards one base64 PCM chunk as an audio-append event. Audio
// is lossy: a failed send is logged and dropped, never surfaced.
func (c *SpeechClient) AppendAudio(audioBase64 string) {
	payload, err := json.Marshal(map[string]string{
		"type":  TypeInputAudioAppend,
		"audio": audioBase64,
	})
	if err != nil {
		log.Printf("speech: encode audio append: %v", err)
		return
	}
	if err := c.write(payload); err != nil {
		log.Printf("speech: dropped audio chunk: %v", err)
	}
}

func (c *SpeechClient) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *SpeechClient) readLoop() {
	defer c.safeClose()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := ParseSpeechEvent(data)
		if err != nil {
			// Malformed frame: drop it and keep the session alive.
			log.Printf("speech: dropped unparseable frame: %v", err)
			continue
		}
		c.events <- ev
	}
}

// Close shuts the socket down. Idempotent.
func (c *SpeechClient) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *SpeechClient) safeClose() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	close(c.events)
}
