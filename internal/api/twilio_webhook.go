package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// emptyTwiML acknowledges an inbound message without an inline reply.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// fallbackReply is sent when a turn fails after the webhook was acknowledged.
const fallbackReply = "Sorry, something went wrong on our side. Please try again in a moment."

// webhookConversationID keys the dialogue of a messaging member by number.
func webhookConversationID(canonical string) string {
	return "twilio:" + canonical
}

// handleTwilioWebhook accepts an inbound WhatsApp or SMS message. The turn is
// handled asynchronously and the reply goes out through the sender.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sender == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Messaging channel not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.handleTwilioWebhook: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}
	if !s.validTwilioSignature(r) {
		slog.Warn("Server.handleTwilioWebhook: signature mismatch", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	from := r.PostForm.Get("From")
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	canonical, err := messaging.CanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.handleTwilioWebhook: invalid sender", "error", err, "from", from)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if body == "" {
		slog.Debug("Server.handleTwilioWebhook: ignoring empty message", "from", canonical)
		writeTwiML(w)
		return
	}

	req := models.RespondRequest{
		MemberID:       canonical,
		ConversationID: webhookConversationID(canonical),
		Messages:       []models.ChatMessage{{Role: models.RoleUser, Content: body}},
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.WebhookTimeout)
		defer cancel()
		s.replyTo(ctx, from, req)
	}()
	writeTwiML(w)
}

func (s *Server) replyTo(ctx context.Context, to string, req models.RespondRequest) {
	reply := fallbackReply
	resp, err := s.responder.Respond(ctx, req)
	if err != nil {
		slog.Error("Server.replyTo: respond failed", "error", err, "memberID", req.MemberID, "conversationID", req.ConversationID)
	} else if text := messaging.RenderResponse(resp); text != "" {
		reply = text
	}
	if err := s.opts.Sender.SendMessage(ctx, to, reply); err != nil {
		slog.Error("Server.replyTo: send failed", "error", err, "memberID", req.MemberID)
		return
	}
	slog.Info("Server.replyTo: reply sent", "memberID", req.MemberID, "conversationID", req.ConversationID, "kind", resp.Kind)
}

// validTwilioSignature checks X-Twilio-Signature when validation is configured.
func (s *Server) validTwilioSignature(r *http.Request) bool {
	if s.opts.WebhookAuthToken == "" {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	validator := client.NewRequestValidator(s.opts.WebhookAuthToken)
	return validator.Validate(s.opts.WebhookURL, params, r.Header.Get("X-Twilio-Signature"))
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.writeTwiML: write failed", "error", err)
	}
}
