package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Speech-model event types the router reacts to. Anything else is forwarded
// to the browser unchanged so newer upstream event types keep working.
const (
	TypeSessionCreated      = "session.created"
	TypeSessionUpdate       = "session.update"
	TypeSessionUpdated      = "session.updated"
	TypeSpeechStarted       = "input_audio_buffer.speech_started"
	TypeSpeechStopped       = "input_audio_buffer.speech_stopped"
	TypeInputAudioAppend    = "input_audio_buffer.append"
	TypeResponseAudioDelta  = "response.audio.delta"
	TypeResponseAudioDone   = "response.audio.done"
	TypeUserTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	TypeAgentTranscriptDone = "response.audio_transcript.done"
	TypeResponseDone        = "response.done"
	TypeError               = "error"
)

// Avatar-renderer event types.
const (
	TypeAvatarSpeakingStarted = "avatar.speaking_started"
	TypeAvatarSpeakingEnded   = "avatar.speaking_ended"
)

var ErrEmptyEventType = errors.New("event has no type tag")

// SpeechEvent is one decoded frame from the speech-model socket. Raw always
// carries the original payload so the event can be forwarded verbatim.
type SpeechEvent struct {
	Type       string
	Raw        json.RawMessage
	Delta      string
	Transcript string
}

type speechEnvelope struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// ParseSpeechEvent decodes the tagged envelope of a speech-model frame.
// Unknown types decode fine and keep their payload intact.
func ParseSpeechEvent(raw []byte) (SpeechEvent, error) {
	var env speechEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SpeechEvent{}, fmt.Errorf("invalid speech frame: %w", err)
	}
	if env.Type == "" {
		return SpeechEvent{}, ErrEmptyEventType
	}
	return SpeechEvent{
		Type:       env.Type,
		Raw:        append(json.RawMessage(nil), raw...),
		Delta:      env.Delta,
		Transcript: env.Transcript,
	}, nil
}

// AvatarEvent is one decoded frame from the avatar-renderer socket.
type AvatarEvent struct {
	Type string
	Raw  json.RawMessage
}

// ParseAvatarEvent decodes the tagged envelope of an avatar-renderer frame.
func ParseAvatarEvent(raw []byte) (AvatarEvent, error) {
	var env speechEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AvatarEvent{}, fmt.Errorf("invalid avatar frame: %w", err)
	}
	if env.Type == "" {
		return AvatarEvent{}, ErrEmptyEventType
	}
	return AvatarEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// VADConfig carries the server-side voice activity detection parameters sent
// in the session configuration message.
type VADConfig struct {
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
	CreateResponse    bool
}

// SessionConfig is the one-shot configuration for a speech-model session.
type SessionConfig struct {
	Instructions          string
	Voice                 string
	TranscriptionModel    string
	TranscriptionLanguage string
	VAD                   VADConfig
}

type sessionUpdateMessage struct {
	Type    string             `json:"type"`
	Session sessionUpdateInner `json:"session"`
}

type sessionUpdateInner struct {
	Modalities        []string        `json:"modalities"`
	Instructions      string          `json:"instructions"`
	Voice             string          `json:"voice"`
	InputAudioFormat  string          `json:"input_audio_format"`
	OutputAudioFormat string          `json:"output_audio_format"`
	Transcription     transcriptionIn `json:"input_audio_transcription"`
	TurnDetection     turnDetection   `json:"turn_detection"`
}

type transcriptionIn struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

func encodeSessionConfig(cfg SessionConfig) ([]byte, error) {
	msg := sessionUpdateMessage{
		Type: TypeSessionUpdate,
		Session: sessionUpdateInner{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Transcription: transcriptionIn{
				Model:    cfg.TranscriptionModel,
				Language: cfg.TranscriptionLanguage,
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         cfg.VAD.Threshold,
				PrefixPaddingMS:   cfg.VAD.PrefixPaddingMS,
				SilenceDurationMS: cfg.VAD.SilenceDurationMS,
				CreateResponse:    cfg.VAD.CreateResponse,
			},
		},
	}
	return json.Marshal(msg)
}

// Outbound frames for the avatar renderer.
type agentSpeakMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Audio   string `json:"audio,omitempty"`
}

const (
	typeAgentSpeak     = "agent.speak"
	typeAgentSpeakEnd  = "agent.speak_end"
	typeAgentInterrupt = "agent.interrupt"
)
