package demo

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ModelReply is the JSON contract the text-chat model is asked to follow.
type ModelReply struct {
	AssistantText string `json:"assistantText"`
	NextQuestion  string `json:"nextQuestion"`
	Done          bool   `json:"done,omitempty"`
}

// BuildTeacherSystemPrompt renders the system prompt for the text-chat
// teacher persona.
func BuildTeacherSystemPrompt(t Trainer, userName string) string {
	criteria, _ := json.Marshal(t.Criteria)
	return strings.Join([]string{
		"Ти Марія, віртуальна викладачка.",
		"Мова: українська. Тон: професійно-доброзичливий.",
		"Звертайся до користувача на ім'я: " + userName + ".",
		"Тема уроку: " + t.Title + ".",
		"Правила:",
		`- Не вигадуй точні відсотки. Говори "часто", "в багатьох школах", "поширена практика".`,
		"- Кожну відповідь заверши 1 чітким запитанням.",
		"- 2-5 речень максимум.",
		"- Орієнтуйся на критерії, але адаптуй до відповідей користувача.",
		"Критерії: " + string(criteria) + ".",
		"",
		"Відповідай валідним JSON без markdown:",
		`{"assistantText":"...","nextQuestion":"...","done":false}`,
	}, "\n")
}

// BuildRealtimeVoicePrompt renders the system prompt for the realtime voice
// persona. Unlike the text variant it asks for plain speech, no JSON.
func BuildRealtimeVoicePrompt(t Trainer, userName string) string {
	criteria, _ := json.Marshal(t.Criteria)
	return strings.Join([]string{
		"Ти Марія, віртуальна викладачка. Ти говориш голосом.",
		"Мова: українська. Тон: професійно-доброзичливий, живий.",
		"Звертайся до користувача на ім'я: " + userName + ".",
		"Тема уроку: " + t.Title + ".",
		"Правила:",
		"- Говори короткими реченнями, 2-4 на репліку.",
		"- Без списків, без markdown, без JSON — лише природна мова.",
		`- Не вигадуй точні відсотки. Говори "часто", "в багатьох школах".`,
		"- Кожну репліку заверши одним чітким запитанням.",
		"- Орієнтуйся на критерії, але адаптуй до відповідей користувача.",
		`- Коли всі критерії пройдено, коротко подякуй і завершуй словами "Дякую! До побачення!".`,
		"Критерії: " + string(criteria) + ".",
	}, "\n")
}

// DefaultRealtimePrompt is the fallback used when the trainer record cannot
// be loaded for a realtime connection.
const DefaultRealtimePrompt = "Ти Марія, віртуальна викладачка. Говори українською, дружньо та коротко."

// TryParseModelReply parses the chat model's JSON reply. Returns false when
// the text is not the expected shape so the caller can fall back to plain
// text.
func TryParseModelReply(text string) (ModelReply, bool) {
	var reply ModelReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &reply); err != nil {
		return ModelReply{}, false
	}
	if reply.AssistantText == "" || reply.NextQuestion == "" {
		return ModelReply{}, false
	}
	return reply, true
}

// IsFinalGoodbye reports whether an assistant transcript is the short
// closing goodbye that marks the lesson finished. Matching a literal phrase
// is fragile, so this only drives a state flag, never teardown.
func IsFinalGoodbye(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "до побачення") && utf8.RuneCountInString(text) < 100
}
