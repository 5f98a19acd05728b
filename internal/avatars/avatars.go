package avatars

import "fmt"

// Profile describes one avatar persona the demo can render.
type Profile struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarID    string `json:"avatar_id"`
	VoiceID     string `json:"voice_id,omitempty"`
	ContextID   string `json:"context_id,omitempty"`
}

var profiles = map[string]Profile{
	"female_friendly": {
		Key:         "female_friendly",
		Name:        "Марія",
		Description: "Дружній жіночий аватар",
		AvatarID:    "65f9e3c9-d48b-4118-b73a-4ae2e3cbb8f0",
	},
}

// ByKey resolves a profile by its key.
func ByKey(key string) (Profile, error) {
	p, ok := profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("unknown avatar key: %q", key)
	}
	return p, nil
}
