package demo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/uroklive/uroklive/internal/avatarapi"
)

const defaultUserName = "Олег"

// fallbackNextQuestion keeps the lesson moving when the model's reply does
// not follow the JSON contract.
const fallbackNextQuestion = "Супер. Скажи, будь ласка, що для тебе найважливіше в цьому пілоті: час вчителя, якість навчання чи безпека?"

// ChatBackend produces one chat completion. Satisfied by *avatarapi.Client.
type ChatBackend interface {
	Chat(ctx context.Context, messages []avatarapi.ChatMessage) (string, error)
}

// Service implements the demo lifecycle: trainer tokens, sessions, text
// chat turns, and voice transcript persistence.
type Service struct {
	store Store
	chat  ChatBackend
}

func NewService(store Store, chat ChatBackend) *Service {
	return &Service{store: store, chat: chat}
}

// GenerateToken mints an opaque url-safe demo token.
func GenerateToken() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateTrainer provisions a new demo trainer from the built-in lesson
// content and returns it.
func (s *Service) CreateTrainer(ctx context.Context, companyName, contactName string) (Trainer, error) {
	token, err := GenerateToken()
	if err != nil {
		return Trainer{}, err
	}
	t := AISchoolsUK
	t.Token = token
	t.CompanyName = companyName
	t.ContactName = contactName
	if err := s.store.CreateTrainer(ctx, t); err != nil {
		return Trainer{}, err
	}
	return t, nil
}

// CreateSession starts a fresh demo session under a trainer token.
func (s *Service) CreateSession(ctx context.Context, demoToken, userName string) (Session, error) {
	if userName == "" {
		userName = defaultUserName
	}
	sess := Session{
		ID:        uuid.NewString(),
		DemoToken: demoToken,
		UserName:  userName,
		State:     SessionState{Turn: 0},
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ChatTurnResult is the outcome of one text chat exchange.
type ChatTurnResult struct {
	AssistantText string `json:"assistantText"`
	NextQuestion  string `json:"nextQuestion"`
	Done          bool   `json:"done"`
}

// ChatTurn runs one text exchange: prompt + trailing history go to the chat
// backend, the parsed reply and updated history are persisted.
func (s *Service) ChatTurn(ctx context.Context, trainer Trainer, sess Session, userMessage string) (ChatTurnResult, error) {
	newMessages := append(append([]Message(nil), sess.Messages...), Message{Role: "user", Content: userMessage})

	history := newMessages
	if len(history) > 12 {
		history = history[len(history)-12:]
	}
	chatMessages := make([]avatarapi.ChatMessage, 0, len(history)+1)
	chatMessages = append(chatMessages, avatarapi.ChatMessage{
		Role:    "system",
		Content: BuildTeacherSystemPrompt(trainer, sess.UserName),
	})
	for _, m := range history {
		chatMessages = append(chatMessages, avatarapi.ChatMessage{Role: m.Role, Content: m.Content})
	}

	raw, err := s.chat.Chat(ctx, chatMessages)
	if err != nil {
		return ChatTurnResult{}, fmt.Errorf("chat turn: %w", err)
	}

	result := ChatTurnResult{NextQuestion: fallbackNextQuestion}
	if reply, ok := TryParseModelReply(raw); ok {
		result.AssistantText = reply.AssistantText
		result.NextQuestion = reply.NextQuestion
		result.Done = reply.Done
	} else {
		result.AssistantText = raw
	}

	updated := append(newMessages, Message{
		Role:    "assistant",
		Content: result.AssistantText + "\n\n" + result.NextQuestion,
	})
	state := sess.State
	state.Turn++
	state.Done = state.Done || result.Done
	if err := s.store.AppendTurn(ctx, sess.ID, state, updated); err != nil {
		return ChatTurnResult{}, err
	}
	return result, nil
}

// SaveTranscript persists one voice transcript segment. A short assistant
// goodbye flips the session's done flag; persistence failures are logged
// and absorbed so a lost segment never takes the conversation down.
func (s *Service) SaveTranscript(ctx context.Context, sessionID, role, text string) {
	seg := TranscriptSegment{SessionID: sessionID, Role: role, Text: text}
	if err := s.store.SaveTranscriptSegment(ctx, seg); err != nil {
		log.Printf("demo: save transcript for %s: %v", sessionID, err)
		return
	}
	if role != "assistant" || !IsFinalGoodbye(text) {
		return
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("demo: load session %s for done flag: %v", sessionID, err)
		return
	}
	if sess.State.Done {
		return
	}
	sess.State.Done = true
	if err := s.store.UpdateSessionState(ctx, sessionID, sess.State); err != nil {
		log.Printf("demo: mark session %s done: %v", sessionID, err)
	}
}

// Store exposes the backing store for collaborators that need direct reads.
func (s *Service) Store() Store { return s.store }
