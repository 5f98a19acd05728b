package demo

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("demo record not found")

// TrainingCriterion is one block of the lesson plan the virtual teacher
// works through.
type TrainingCriterion struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
}

// Trainer is one demo deployment, addressed by its opaque token.
type Trainer struct {
	Token               string              `json:"token"`
	CompanyName         string              `json:"company_name,omitempty"`
	ContactName         string              `json:"contact_name,omitempty"`
	Title               string              `json:"title"`
	TrainingLanguage    string              `json:"training_language"`
	AvatarKey           string              `json:"avatar_key"`
	OpeningTextTemplate string              `json:"opening_text"`
	Criteria            []TrainingCriterion `json:"criteria"`
	Model               string              `json:"model"`
}

// LiveAvatarState holds the avatar-renderer handles obtained for a session.
type LiveAvatarState struct {
	SessionID    string `json:"session_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	LivekitURL   string `json:"livekit_url,omitempty"`
	LivekitToken string `json:"livekit_token,omitempty"`
	WSURL        string `json:"ws_url,omitempty"`
}

// SessionState is the mutable per-session state blob.
type SessionState struct {
	Turn       int              `json:"turn"`
	Done       bool             `json:"done,omitempty"`
	LiveAvatar *LiveAvatarState `json:"live_avatar,omitempty"`
}

// Message is one text-chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is one visitor's demo conversation.
type Session struct {
	ID        string       `json:"id"`
	DemoToken string       `json:"demo_token"`
	UserName  string       `json:"user_name"`
	State     SessionState `json:"state"`
	Messages  []Message    `json:"messages"`
}

// TranscriptSegment is one persisted utterance from the realtime voice flow.
type TranscriptSegment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists demo trainers, sessions, and voice transcripts.
type Store interface {
	CreateTrainer(ctx context.Context, t Trainer) error
	GetTrainer(ctx context.Context, token string) (Trainer, error)
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSessionState(ctx context.Context, id string, state SessionState) error
	AppendTurn(ctx context.Context, id string, state SessionState, messages []Message) error
	SaveTranscriptSegment(ctx context.Context, seg TranscriptSegment) error
	ListTranscriptSegments(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
	Close() error
}
