package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/patchbay-io/patchbay/internal/consent"
	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/twiliosms"
)

// signatureHeader carries the carrier's HMAC over URL + form fields.
const signatureHeader = "X-Twilio-Signature"

// signedRequestURL reconstructs the full URL Twilio signed. A configured
// public base URL wins; otherwise the URL is rebuilt from the request,
// honoring X-Forwarded-Proto for proxied deployments.
func (s *Server) signedRequestURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// inboundWebhookHandler receives carrier-originated messages: it resolves the
// tenant, records the message, fans out a notification, and applies consent
// keyword transitions. The external contract is accept-and-best-effort; only
// authentication failures and wrong methods are rejected.
func (s *Server) inboundWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.inboundWebhookHandler: failed to parse form", "error", err)
		writeTextResponse(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if !twiliosms.ValidateSignature(s.signedRequestURL(r), r.PostForm, s.opts.TwilioAuthToken, r.Header.Get(signatureHeader)) {
		slog.Warn("Server.inboundWebhookHandler: signature verification failed")
		writeTextResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	messagingServiceSID := r.PostForm.Get("MessagingServiceSid")
	toNumber := r.PostForm.Get("To")
	fromNumber := r.PostForm.Get("From")
	body := strings.TrimSpace(r.PostForm.Get("Body"))

	tenantID, err := s.store.ResolveInboundTenant(messagingServiceSID, toNumber)
	if err != nil {
		slog.Error("Server.inboundWebhookHandler: tenant resolution failed", "error", err)
		writeTextResponse(w, http.StatusOK, "OK")
		return
	}
	if tenantID == "" {
		// 200 despite the miss: failing here would only trigger carrier
		// retries for traffic we can never route.
		slog.Error("Server.inboundWebhookHandler: tenant not resolved",
			"messagingServiceSID", messagingServiceSID, "to", toNumber)
		writeTextResponse(w, http.StatusOK, "OK")
		return
	}

	action := consent.Classify(body)

	var leadID string
	lead, err := s.store.FindLeadByPhone(tenantID, fromNumber)
	if err != nil {
		slog.Error("Server.inboundWebhookHandler: lead lookup failed", "tenantID", tenantID, "error", err)
	} else if lead != nil {
		leadID = lead.ID
	}

	if _, err := s.store.InsertMessage(models.Message{
		TenantID:   tenantID,
		LeadID:     leadID,
		Direction:  models.DirectionInbound,
		Channel:    models.ChannelSMS,
		FromNumber: fromNumber,
		ToNumber:   toNumber,
		Body:       body,
		Status:     models.MessageStatusReceived,
	}); err != nil {
		slog.Error("Server.inboundWebhookHandler: insert message failed", "tenantID", tenantID, "error", err)
	}

	// Fire-and-forget fan-out; enqueue failure never reaches the carrier.
	notifyPayload, err := models.MarshalPayload(models.NotifyPayload{
		LeadID: leadID,
		From:   fromNumber,
		To:     toNumber,
		Body:   body,
	})
	if err != nil {
		slog.Error("Server.inboundWebhookHandler: marshal notification payload", "error", err)
	} else if _, err := s.store.EnqueueNotificationEvent(tenantID, models.EventMessageReceived, notifyPayload); err != nil {
		slog.Error("Server.inboundWebhookHandler: enqueue notification failed", "tenantID", tenantID, "error", err)
	}

	if action != consent.ActionNone {
		if _, err := s.store.SetConsentByPhone(tenantID, fromNumber, action.OptedIn()); err != nil {
			slog.Error("Server.inboundWebhookHandler: consent update failed", "tenantID", tenantID, "error", err)
		}
		confirmPayload, err := models.MarshalPayload(models.SendPayload{
			To:     fromNumber,
			From:   toNumber,
			Body:   consent.ConfirmationText(action),
			Reason: "consent:" + string(action),
		})
		if err != nil {
			slog.Error("Server.inboundWebhookHandler: marshal confirmation payload", "error", err)
		} else if _, err := s.store.EnqueueOutboxEvent(tenantID, models.EventMessageSend, confirmPayload); err != nil {
			slog.Error("Server.inboundWebhookHandler: enqueue confirmation failed", "tenantID", tenantID, "error", err)
		}
		slog.Info("Server.inboundWebhookHandler: consent action applied",
			"tenantID", tenantID, "action", action, "from", fromNumber)
	}

	writeTextResponse(w, http.StatusOK, "OK")
}

// statusWebhookHandler receives provider delivery-status callbacks and updates
// the matching outbound message. An unknown provider id is a no-op; the
// callback is always acknowledged once authenticated.
func (s *Server) statusWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.statusWebhookHandler: failed to parse form", "error", err)
		writeTextResponse(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if !twiliosms.ValidateSignature(s.signedRequestURL(r), r.PostForm, s.opts.TwilioAuthToken, r.Header.Get(signatureHeader)) {
		slog.Warn("Server.statusWebhookHandler: signature verification failed")
		writeTextResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	messageSID := r.PostForm.Get("MessageSid")
	messageStatus := r.PostForm.Get("MessageStatus")
	errorCode := r.PostForm.Get("ErrorCode")

	if messageSID != "" && messageStatus != "" {
		n, err := s.store.UpdateMessageStatusByProviderID(messageSID, models.MessageStatus(messageStatus), errorCode)
		if err != nil {
			slog.Error("Server.statusWebhookHandler: status update failed", "sid", messageSID, "error", err)
		} else {
			slog.Debug("Server.statusWebhookHandler: status updated",
				"sid", messageSID, "status", messageStatus, "affected", n)
		}
	}

	writeTextResponse(w, http.StatusOK, "OK")
}
