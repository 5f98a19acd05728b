package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/uroklive/uroklive/internal/avatarapi"
	"github.com/uroklive/uroklive/internal/avatars"
	"github.com/uroklive/uroklive/internal/config"
	"github.com/uroklive/uroklive/internal/demo"
	"github.com/uroklive/uroklive/internal/observability"
	"github.com/uroklive/uroklive/internal/ratelimit"
	"github.com/uroklive/uroklive/internal/realtime"
)

// firstQuestion is the canned first utterance the browser sends to kick
// off a voice lesson.
const firstQuestion = "Почни урок"

// Server wires the demo REST API and the realtime websocket gateway.
type Server struct {
	cfg      config.Config
	store    demo.Store
	svc      *demo.Service
	agent    *avatarapi.Client
	registry *realtime.Registry
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, store demo.Store, svc *demo.Service, agent *avatarapi.Client, registry *realtime.Registry, limiter *ratelimit.Limiter, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		svc:      svc,
		agent:    agent,
		registry: registry,
		limiter:  limiter,
		metrics:  metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/api/health", s.handleHealth)
	mux.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	mux.Route("/api/demo", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/request", s.handleDemoRequest)
		r.Get("/liveavatar/options", s.handleLiveAvatarOptions)
		r.Get("/{token}", s.handleGetDemo)
		r.Get("/{token}/prompt", s.handleGetPrompt)
		r.Post("/{token}/session", s.handleCreateSession)
		r.Post("/{token}/chat", s.handleChat)
		r.Post("/{token}/liveavatar/start", s.handleLiveAvatarStart)
		r.Post("/{token}/liveavatar/stop", s.handleLiveAvatarStop)
	})

	mux.Get("/api/realtime/{sessionID}", s.handleRealtimeWS)

	return mux
}

// rateLimit applies a fixed-window per-IP limit to the demo API. The
// limiter fails open when redis is unreachable or not configured.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if err := s.limiter.Allow(r.Context(), ip); errors.Is(err, ratelimit.ErrRateLimited) {
			s.metrics.RateLimited.Inc()
			respondError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleDemoRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyName string `json:"companyName"`
		ContactName string `json:"contactName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.ContactName = strings.TrimSpace(req.ContactName)
	if req.CompanyName == "" || len(req.CompanyName) > 200 {
		respondError(w, http.StatusBadRequest, "companyName is required")
		return
	}
	if len(req.ContactName) > 200 {
		respondError(w, http.StatusBadRequest, "contactName is too long")
		return
	}

	trainer, err := s.svc.CreateTrainer(r.Context(), req.CompanyName, req.ContactName)
	if err != nil {
		log.Printf("httpapi: create trainer: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create demo")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"token": trainer.Token})
}

func (s *Server) trainerByToken(w http.ResponseWriter, r *http.Request) (demo.Trainer, bool) {
	token := chi.URLParam(r, "token")
	trainer, err := s.store.GetTrainer(r.Context(), token)
	if err != nil {
		if errors.Is(err, demo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "demo not found")
		} else {
			log.Printf("httpapi: get trainer: %v", err)
			respondError(w, http.StatusInternalServerError, "lookup failed")
		}
		return demo.Trainer{}, false
	}
	return trainer, true
}

func (s *Server) handleGetDemo(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"companyName": trainer.CompanyName,
		"contactName": trainer.ContactName,
		"title":       trainer.Title,
		"criteria":    trainer.Criteria,
		"avatarKey":   trainer.AvatarKey,
	})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	userName := strings.TrimSpace(r.URL.Query().Get("userName"))
	if userName == "" {
		userName = "Олег"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"userName": userName,
		"prompt":   demo.BuildTeacherSystemPrompt(trainer, userName),
		"criteria": trainer.Criteria,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	var req struct {
		UserName string `json:"userName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.svc.CreateSession(r.Context(), trainer.Token, req.UserName)
	if err != nil {
		log.Printf("httpapi: create session: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sess.ID,
		"openingText":   demo.RenderOpeningText(trainer.OpeningTextTemplate, sess.UserName),
		"firstQuestion": firstQuestion,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "sessionId and message are required")
		return
	}

	sess, err := s.store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, demo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
		} else {
			log.Printf("httpapi: get session: %v", err)
			respondError(w, http.StatusInternalServerError, "lookup failed")
		}
		return
	}
	if sess.DemoToken != trainer.Token {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	result, err := s.svc.ChatTurn(r.Context(), trainer, sess, req.Message)
	if err != nil {
		log.Printf("httpapi: chat turn: %v", err)
		respondError(w, http.StatusBadGateway, "teacher backend unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"assistantText": result.AssistantText,
		"nextQuestion":  result.NextQuestion,
		"done":          result.Done,
	})
}

func (s *Server) handleLiveAvatarStart(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	var req struct {
		UserName  string `json:"userName"`
		VoiceID   string `json:"voiceId"`
		ContextID string `json:"contextId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.svc.CreateSession(r.Context(), trainer.Token, req.UserName)
	if err != nil {
		log.Printf("httpapi: create session: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	profile, _ := avatars.ByKey(trainer.AvatarKey)
	start := avatarapi.StartRequest{
		AvatarID:  profile.AvatarID,
		VoiceID:   strings.TrimSpace(req.VoiceID),
		ContextID: strings.TrimSpace(req.ContextID),
	}
	if s.cfg.LiveAvatarAvatarID != "" {
		start.AvatarID = s.cfg.LiveAvatarAvatarID
	}
	if start.VoiceID != "" && start.ContextID != "" {
		start.Language = "uk"
	}

	started, err := s.agent.StartLiveAvatar(r.Context(), start)
	if err != nil {
		log.Printf("httpapi: start live avatar: %v", err)
		respondError(w, http.StatusBadGateway, "live avatar unavailable")
		return
	}

	sess.State.LiveAvatar = &demo.LiveAvatarState{
		SessionID:    started.SessionID,
		SessionToken: started.SessionToken,
		LivekitURL:   started.LivekitURL,
		LivekitToken: started.LivekitToken,
		WSURL:        started.WSURL,
	}
	if err := s.store.UpdateSessionState(r.Context(), sess.ID, sess.State); err != nil {
		log.Printf("httpapi: persist live avatar state: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"demoSessionId":       sess.ID,
		"liveAvatarSessionId": started.SessionID,
		"livekitUrl":          started.LivekitURL,
		"livekitToken":        started.LivekitToken,
		"wsUrl":               started.WSURL,
		"openingText":         demo.RenderOpeningText(trainer.OpeningTextTemplate, sess.UserName),
		"firstQuestion":       firstQuestion,
	})
}

func (s *Server) handleLiveAvatarStop(w http.ResponseWriter, r *http.Request) {
	trainer, ok := s.trainerByToken(w, r)
	if !ok {
		return
	}
	var req struct {
		DemoSessionID string `json:"demoSessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DemoSessionID == "" {
		respondError(w, http.StatusBadRequest, "demoSessionId is required")
		return
	}

	sess, err := s.store.GetSession(r.Context(), req.DemoSessionID)
	if err != nil {
		if errors.Is(err, demo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
		} else {
			log.Printf("httpapi: get session: %v", err)
			respondError(w, http.StatusInternalServerError, "lookup failed")
		}
		return
	}
	if sess.DemoToken != trainer.Token {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	if la := sess.State.LiveAvatar; la != nil {
		if la.SessionToken != "" {
			if err := s.agent.StopLiveAvatar(r.Context(), la.SessionToken); err != nil {
				log.Printf("httpapi: stop live avatar: %v", err)
			}
		}
		sess.State.LiveAvatar = nil
		if err := s.store.UpdateSessionState(r.Context(), sess.ID, sess.State); err != nil {
			log.Printf("httpapi: clear live avatar state: %v", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLiveAvatarOptions(w http.ResponseWriter, r *http.Request) {
	voices, err := s.agent.ListVoices(r.Context())
	if err != nil {
		log.Printf("httpapi: list voices: %v", err)
		respondError(w, http.StatusBadGateway, "live avatar unavailable")
		return
	}
	contexts, err := s.agent.ListContexts(r.Context())
	if err != nil {
		log.Printf("httpapi: list contexts: %v", err)
		respondError(w, http.StatusBadGateway, "live avatar unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"voices":   voices,
		"contexts": contexts,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
