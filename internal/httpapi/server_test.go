package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/uroklive/uroklive/internal/avatarapi"
	"github.com/uroklive/uroklive/internal/config"
	"github.com/uroklive/uroklive/internal/demo"
	"github.com/uroklive/uroklive/internal/observability"
	"github.com/uroklive/uroklive/internal/ratelimit"
	"github.com/uroklive/uroklive/internal/realtime"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = observability.NewMetrics("httpapi_test")

type testEnv struct {
	store    demo.Store
	registry *realtime.Registry
	srv      *httptest.Server
}

type envOption func(*config.Config)

func withSpeechURL(u string) envOption {
	return func(c *config.Config) { c.OpenAIRealtimeURL = u }
}

func withRedis(url string, limit int64) envOption {
	return func(c *config.Config) {
		c.RedisURL = url
		c.DemoRateLimit = limit
	}
}

func newEnv(t *testing.T, agentURL string, opts ...envOption) *testEnv {
	t.Helper()

	cfg := config.Config{
		AllowAnyOrigin:        true,
		OpenAIAPIKey:          "sk-test",
		OpenAIRealtimeURL:     "ws://127.0.0.1:1", // unused unless overridden
		OpenAIRealtimeModel:   "gpt-4o-realtime-preview-2024-12-17",
		OpenAITranscribeModel: "whisper-1",
		RealtimeVoice:         "shimmer",
		TranscribeLanguage:    "uk",
		VADThreshold:          0.5,
		VADPrefixPaddingMS:    300,
		VADSilenceDurationMS:  3000,
		VADCreateResponse:     true,
		AgentAvatarURL:        agentURL,
		InternalAPISecret:     "secret",
		DemoRateLimit:         120,
		DemoRateWindow:        time.Minute,
	}
	for _, o := range opts {
		o(&cfg)
	}

	limiter, err := ratelimit.New(cfg.RedisURL, cfg.DemoRateLimit, cfg.DemoRateWindow)
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })

	store := demo.NewInMemoryStore()
	agent := avatarapi.New(cfg.AgentAvatarURL, cfg.InternalAPISecret)
	svc := demo.NewService(store, agent)
	registry := realtime.NewRegistry()
	t.Cleanup(registry.Shutdown)

	server := NewServer(cfg, store, svc, agent, registry, limiter, testMetrics)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &testEnv{store: store, registry: registry, srv: srv}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	res, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	var out map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return res, out
}

func (e *testEnv) getJSON(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	res, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	var out map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return res, out
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	return s
}

func newDemoToken(t *testing.T, e *testEnv) string {
	t.Helper()
	res, out := e.postJSON(t, "/api/demo/request", map[string]string{"companyName": "AI Schools"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("demo request status = %d", res.StatusCode)
	}
	token := rawString(t, out["token"])
	if token == "" {
		t.Fatal("empty demo token")
	}
	return token
}

// fakeAgent stands in for the agent-avatar service.
func fakeAgent(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/openai/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-Secret") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"text":"{\"assistantText\":\"Добре!\",\"nextQuestion\":\"Що далі?\",\"done\":false}"}`)
	})
	mux.HandleFunc("/internal/liveavatar/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sessionId":"la-1","sessionToken":"tok-1","livekitUrl":"wss://lk.example","livekitToken":"lkt","wsUrl":"ws://avatar.example/ws"}`)
	})
	mux.HandleFunc("/internal/liveavatar/stop", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/internal/liveavatar/voices", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"v1"}]`)
	})
	mux.HandleFunc("/internal/liveavatar/contexts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"c1"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	e := newEnv(t, "")
	res, out := e.getJSON(t, "/api/health")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := rawString(t, out["status"]); got != "ok" {
		t.Fatalf("status = %q, want ok", got)
	}
}

func TestDemoRequestAndFetch(t *testing.T) {
	e := newEnv(t, "")
	token := newDemoToken(t, e)

	res, out := e.getJSON(t, "/api/demo/"+token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get demo status = %d", res.StatusCode)
	}
	if got := rawString(t, out["companyName"]); got != "AI Schools" {
		t.Fatalf("companyName = %q", got)
	}
	if len(out["criteria"]) == 0 {
		t.Fatal("missing criteria")
	}

	res, _ = e.getJSON(t, "/api/demo/nosuchtoken")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown token status = %d, want 404", res.StatusCode)
	}
}

func TestDemoRequestValidation(t *testing.T) {
	e := newEnv(t, "")
	res, _ := e.postJSON(t, "/api/demo/request", map[string]string{"companyName": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestCreateSessionDefaultsUserName(t *testing.T) {
	e := newEnv(t, "")
	token := newDemoToken(t, e)

	res, out := e.postJSON(t, "/api/demo/"+token+"/session", map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if rawString(t, out["sessionId"]) == "" {
		t.Fatal("empty sessionId")
	}
	if rawString(t, out["openingText"]) == "" {
		t.Fatal("empty openingText")
	}
	if got := rawString(t, out["firstQuestion"]); got != "Почни урок" {
		t.Fatalf("firstQuestion = %q", got)
	}
}

func TestPromptEndpoint(t *testing.T) {
	e := newEnv(t, "")
	token := newDemoToken(t, e)

	res, out := e.getJSON(t, "/api/demo/"+token+"/prompt?userName=Іван")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	prompt := rawString(t, out["prompt"])
	if !strings.Contains(prompt, "Іван") {
		t.Fatalf("prompt does not mention user name: %q", prompt)
	}
}

func TestChatTurn(t *testing.T) {
	agent := fakeAgent(t)
	e := newEnv(t, agent.URL)
	token := newDemoToken(t, e)

	_, created := e.postJSON(t, "/api/demo/"+token+"/session", map[string]string{"userName": "Іван"})
	sessionID := rawString(t, created["sessionId"])

	res, out := e.postJSON(t, "/api/demo/"+token+"/chat", map[string]string{
		"sessionId": sessionID,
		"message":   "Привіт",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := rawString(t, out["assistantText"]); got != "Добре!" {
		t.Fatalf("assistantText = %q", got)
	}
	if got := rawString(t, out["nextQuestion"]); got != "Що далі?" {
		t.Fatalf("nextQuestion = %q", got)
	}
}

func TestChatRejectsForeignSession(t *testing.T) {
	agent := fakeAgent(t)
	e := newEnv(t, agent.URL)
	tokenA := newDemoToken(t, e)
	tokenB := newDemoToken(t, e)

	_, created := e.postJSON(t, "/api/demo/"+tokenA+"/session", map[string]string{})
	sessionID := rawString(t, created["sessionId"])

	res, _ := e.postJSON(t, "/api/demo/"+tokenB+"/chat", map[string]string{
		"sessionId": sessionID,
		"message":   "Привіт",
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestLiveAvatarStartStop(t *testing.T) {
	agent := fakeAgent(t)
	e := newEnv(t, agent.URL)
	token := newDemoToken(t, e)

	res, out := e.postJSON(t, "/api/demo/"+token+"/liveavatar/start", map[string]string{"userName": "Іван"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", res.StatusCode)
	}
	sessionID := rawString(t, out["demoSessionId"])
	if got := rawString(t, out["wsUrl"]); got != "ws://avatar.example/ws" {
		t.Fatalf("wsUrl = %q", got)
	}

	sess, err := e.store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.State.LiveAvatar == nil || sess.State.LiveAvatar.WSURL != "ws://avatar.example/ws" {
		t.Fatalf("live avatar state not persisted: %+v", sess.State.LiveAvatar)
	}

	res, _ = e.postJSON(t, "/api/demo/"+token+"/liveavatar/stop", map[string]string{"demoSessionId": sessionID})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", res.StatusCode)
	}
	sess, err = e.store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession after stop: %v", err)
	}
	if sess.State.LiveAvatar != nil {
		t.Fatal("live avatar state not cleared after stop")
	}
}

func TestLiveAvatarOptions(t *testing.T) {
	agent := fakeAgent(t)
	e := newEnv(t, agent.URL)

	res, out := e.getJSON(t, "/api/demo/liveavatar/options")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if len(out["voices"]) == 0 || len(out["contexts"]) == 0 {
		t.Fatalf("missing voices/contexts: %v", out)
	}
}

func TestRateLimitOnDemoRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	e := newEnv(t, "", withRedis("redis://"+mr.Addr(), 2))

	for i := 0; i < 2; i++ {
		res, _ := e.getJSON(t, "/api/demo/nosuchtoken")
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("request %d status = %d, want 404", i, res.StatusCode)
		}
	}
	res, out := e.getJSON(t, "/api/demo/nosuchtoken")
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", res.StatusCode)
	}
	if got := rawString(t, out["error"]); got != "rate_limited" {
		t.Fatalf("error = %q", got)
	}

	// Health is outside the limited group.
	res, _ = e.getJSON(t, "/api/health")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}
