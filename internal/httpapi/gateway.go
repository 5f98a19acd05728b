package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/uroklive/uroklive/internal/demo"
	"github.com/uroklive/uroklive/internal/realtime"
)

// handleRealtimeWS upgrades the browser connection and stands up a routing
// session between it, the speech model and the live-avatar socket. One
// browser socket per demo session; a second connect for the same id is
// rejected while the first is alive.
func (s *Server) handleRealtimeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, demo.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
		} else {
			log.Printf("httpapi: get session: %v", err)
			respondError(w, http.StatusInternalServerError, "lookup failed")
		}
		return
	}
	if _, exists := s.registry.Lookup(sessionID); exists {
		respondError(w, http.StatusConflict, "session already connected")
		return
	}

	instructions := demo.DefaultRealtimePrompt
	if trainer, err := s.store.GetTrainer(r.Context(), sess.DemoToken); err != nil {
		log.Printf("httpapi: get trainer for session %s: %v, using default prompt", sessionID, err)
	} else {
		instructions = demo.BuildRealtimeVoicePrompt(trainer, sess.UserName)
	}
	avatarURL := ""
	if la := sess.State.LiveAvatar; la != nil {
		avatarURL = la.WSURL
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	opts := realtime.Options{
		SessionID: sessionID,
		Speech: realtime.SpeechConfig{
			BaseURL: s.cfg.OpenAIRealtimeURL,
			Model:   s.cfg.OpenAIRealtimeModel,
			APIKey:  s.cfg.OpenAIAPIKey,
		},
		Session: realtime.SessionConfig{
			Instructions:          instructions,
			Voice:                 s.cfg.RealtimeVoice,
			TranscriptionModel:    s.cfg.OpenAITranscribeModel,
			TranscriptionLanguage: s.cfg.TranscribeLanguage,
			VAD: realtime.VADConfig{
				Threshold:         s.cfg.VADThreshold,
				PrefixPaddingMS:   s.cfg.VADPrefixPaddingMS,
				SilenceDurationMS: s.cfg.VADSilenceDurationMS,
				CreateResponse:    s.cfg.VADCreateResponse,
			},
		},
		AvatarSocketURL: avatarURL,
		OnTranscript: func(role, text string) {
			s.svc.SaveTranscript(context.Background(), sessionID, role, text)
			s.metrics.TranscriptSegments.WithLabelValues(role).Inc()
		},
	}

	out := make(chan json.RawMessage, 256)
	router, err := realtime.Connect(r.Context(), opts, out)
	if err != nil {
		log.Printf("httpapi: session %s: connect upstreams: %v", sessionID, err)
		var uce *realtime.UpstreamConnectError
		if errors.As(err, &uce) {
			s.metrics.UpstreamErrors.WithLabelValues(uce.Upstream, "connect").Inc()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}

	if err := s.registry.Register(sessionID, router); err != nil {
		router.Close()
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session already connected")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}
	s.metrics.ActiveSessions.Inc()
	log.Printf("httpapi: session %s: realtime bridge up (avatar=%v)", sessionID, avatarURL != "")

	defer func() {
		if err := s.registry.Dispose(sessionID); err != nil && !errors.Is(err, realtime.ErrSessionNotFound) {
			log.Printf("httpapi: dispose session %s: %v", sessionID, err)
		}
		s.metrics.ActiveSessions.Dec()
		log.Printf("httpapi: session %s: realtime bridge down", sessionID)
	}()

	// Writer: the router closes out when it stops, which also covers the
	// speech upstream going away. Closing the conn unblocks the read loop.
	go func() {
		for raw := range out {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Printf("httpapi: session %s: client write: %v", sessionID, err)
				router.Close()
				break
			}
			s.metrics.WSMessages.WithLabelValues("out").Inc()
		}
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("httpapi: session %s: client read: %v", sessionID, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("in").Inc()
		router.HandleClientMessage(data)
	}
}
