package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/chat"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/gateway"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/relay"
)

const (
	maxChatBody       = 8 << 20
	persistTimeout    = 15 * time.Second
	upstreamRetryHint = 30 * time.Second

	msgInvalidRequest  = "Requête invalide."
	msgMissingFields   = "Le message et le sessionId sont requis."
	msgRateLimited     = "Trop de requêtes. Veuillez réessayer dans quelques minutes."
	msgUpstreamBusy    = "Trop de requêtes, réessayez dans un instant."
	msgUpstreamPayment = "Service temporairement indisponible."
	msgInternal        = "Une erreur est survenue, veuillez réessayer."
)

type chatRequest struct {
	ConversationID string   `json:"conversationId" validate:"omitempty,uuid"`
	SessionID      string   `json:"sessionId" validate:"required,max=200"`
	Message        string   `json:"message" validate:"required"`
	Images         []string `json:"images" validate:"max=4,dive,required"`
}

// handleChat serves POST /api/chat as a server-sent event stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		s.metrics.ChatTurn("invalid")
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.metrics.ChatTurn("invalid")
		if req.Message == "" || req.SessionID == "" {
			writeError(w, http.StatusBadRequest, msgMissingFields)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if utf8.RuneCountInString(req.Message) > s.opts.MaxMessageLength {
		s.metrics.ChatTurn("invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Message trop long (max %d caractères)", s.opts.MaxMessageLength))
		return
	}

	turn, err := s.chat.Begin(r.Context(), chat.Request{
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		Message:        req.Message,
		Images:         req.Images,
	})
	if err != nil {
		s.beginFailed(w, r, req.SessionID, err)
		return
	}
	defer turn.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Conversation-Id", turn.ConversationID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }

	if len(turn.References) > 0 {
		ev, err := relay.EncodeEvent(relay.Event{Type: relay.EventReferenceCalls, References: turn.References})
		if err == nil {
			_, _ = w.Write(ev)
			flush()
		}
	}

	started := time.Now()
	res := relay.Copy(w, flush, turn.Body, &relay.Parser{})
	clientGone := res.ClientGone || r.Context().Err() != nil
	s.metrics.StreamFinished(time.Since(started).Seconds(), clientGone)

	if res.Err != nil && !clientGone {
		s.logger.Warn("upstream stream interrupted",
			"conversation_id", turn.ConversationID, "error", res.Err)
	}
	if clientGone {
		s.logger.Info("client disconnected mid-stream",
			"conversation_id", turn.ConversationID, "received_chars", len(res.Text))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), persistTimeout)
	defer cancel()
	if err := s.chat.Finish(ctx, turn, res.Text); err != nil {
		s.logger.Error("persist assistant turn",
			"conversation_id", turn.ConversationID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		s.metrics.ChatTurn("error")
		return
	}
	s.metrics.ChatTurn("ok")
}

func (s *Server) beginFailed(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	var rle *chat.RateLimitError
	switch {
	case errors.As(err, &rle):
		s.metrics.ChatTurn("rate_limited")
		s.logger.Info("rate limit exceeded", "session_id", sessionID)
		secs := int(rle.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      msgRateLimited,
			"retryAfter": secs,
		})
	case gateway.IsThrottled(err):
		s.metrics.ChatTurn("upstream_throttled")
		s.logger.Warn("gateway throttled", "session_id", sessionID, "error", err)
		w.Header().Set("Retry-After", strconv.Itoa(int(upstreamRetryHint.Seconds())))
		writeError(w, http.StatusTooManyRequests, msgUpstreamBusy)
	case gateway.IsQuotaExhausted(err):
		s.metrics.ChatTurn("upstream_quota")
		s.logger.Error("gateway quota exhausted", "session_id", sessionID, "error", err)
		writeError(w, http.StatusPaymentRequired, msgUpstreamPayment)
	default:
		s.metrics.ChatTurn("error")
		s.logger.Error("chat turn failed",
			"session_id", sessionID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
