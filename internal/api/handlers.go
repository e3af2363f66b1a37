package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/patchbay-io/patchbay/internal/messaging"
	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/ratelimit"
)

// bearerToken extracts the opaque token from an Authorization header.
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// authenticateTenant resolves the producer tenant from the request's bearer
// token. A nil tenant means the caller is unauthorized.
func (s *Server) authenticateTenant(r *http.Request) *models.Tenant {
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	tenant, err := s.store.FindTenantByIngestToken(token)
	if err != nil {
		slog.Error("Server.authenticateTenant: token lookup failed", "error", err)
		return nil
	}
	return tenant
}

// workerOutboxHandler is the scheduled trigger that drains the outbox. Callers
// authenticate with the worker token; the response is the processed count.
func (s *Server) workerOutboxHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.opts.WorkerToken == "" {
		slog.Error("Server.workerOutboxHandler: no worker token configured")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Server misconfigured"))
		return
	}
	token := bearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.WorkerToken)) != 1 {
		slog.Warn("Server.workerOutboxHandler: invalid worker token")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	processed, err := s.processor.ProcessDue(r.Context())
	if err != nil {
		slog.Error("Server.workerOutboxHandler: processing failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Processing failed"))
		return
	}
	slog.Info("Server.workerOutboxHandler: run complete", "processed", processed)
	writeJSONResponse(w, http.StatusOK, map[string]int{"processed": processed})
}

// sendMessageRequest is the producer payload for a direct outbound send.
type sendMessageRequest struct {
	LeadID string `json:"lead_id"`
	To     string `json:"to"`
	Body   string `json:"body"`
}

// sendMessageHandler sends one SMS synchronously on behalf of a tenant. Sends
// are consent-gated and rate limited per tenant.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	tenant := s.authenticateTenant(r)
	if tenant == nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.To == "" || req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("to and body are required"))
		return
	}

	lead, err := s.store.GetLead(req.LeadID)
	if err != nil {
		slog.Error("Server.sendMessageHandler: lead lookup failed", "leadID", req.LeadID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Lead lookup failed"))
		return
	}
	if lead == nil || lead.TenantID != tenant.ID {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	if !lead.ConsentSMS {
		writeJSONResponse(w, http.StatusConflict, models.Error("No consent"))
		return
	}

	allowed, err := s.limiter.TakeToken(ratelimit.Key{TenantID: tenant.ID, Bucket: sendBucket}, sendRefillPerSec, sendBucketCap)
	if err != nil {
		slog.Error("Server.sendMessageHandler: rate limiter failed", "tenantID", tenant.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Rate limiter failed"))
		return
	}
	if !allowed {
		slog.Warn("Server.sendMessageHandler: rate limited", "tenantID", tenant.ID)
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Rate limited"))
		return
	}

	res, err := s.dispatcher.Send(r.Context(), messaging.SendRequest{
		TenantID: tenant.ID,
		To:       req.To,
		Body:     req.Body,
	})
	if err != nil {
		slog.Error("Server.sendMessageHandler: send failed", "tenantID", tenant.ID, "to", req.To, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Send failed"))
		return
	}

	if _, err := s.store.InsertMessage(models.Message{
		TenantID:          tenant.ID,
		LeadID:            lead.ID,
		Direction:         models.DirectionOutbound,
		Channel:           models.ChannelSMS,
		FromNumber:        res.FromNumber,
		ToNumber:          req.To,
		Body:              req.Body,
		ProviderMessageID: res.ProviderMessageID,
		Status:            res.Status,
	}); err != nil {
		slog.Error("Server.sendMessageHandler: record message failed", "tenantID", tenant.ID, "error", err)
	}

	slog.Info("Server.sendMessageHandler: message sent", "tenantID", tenant.ID, "provider", res.Provider)
	writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "provider_id": res.ProviderMessageID})
}

// ingestLeadRequest is the producer payload for lead ingestion.
type ingestLeadRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// ingestLeadHandler records a new lead and fans out a lead.created
// notification to the tenant's rules.
func (s *Server) ingestLeadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	tenant := s.authenticateTenant(r)
	if tenant == nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var req ingestLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.ingestLeadHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	leadID, err := s.store.InsertLead(models.Lead{
		TenantID:   tenant.ID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		Email:      req.Email,
		ConsentSMS: true,
	})
	if err != nil {
		slog.Error("Server.ingestLeadHandler: insert lead failed", "tenantID", tenant.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Insert failed"))
		return
	}

	contact := req.Phone
	if contact == "" {
		contact = req.Email
	}
	body := strings.TrimSpace("New lead: " + strings.TrimSpace(req.FirstName+" "+req.LastName) + " " + contact)
	payload, err := models.MarshalPayload(models.NotifyPayload{LeadID: leadID, Body: body})
	if err != nil {
		slog.Error("Server.ingestLeadHandler: marshal notification payload", "error", err)
	} else if _, err := s.store.EnqueueNotificationEvent(tenant.ID, models.EventLeadCreated, payload); err != nil {
		slog.Error("Server.ingestLeadHandler: enqueue notification failed", "tenantID", tenant.ID, "error", err)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "lead_id": leadID})
}

// ingestQuoteRequest is the producer payload for quote ingestion.
type ingestQuoteRequest struct {
	QuoteID string `json:"quote_id"`
	LeadID  string `json:"lead_id"`
}

// ingestQuoteHandler enqueues a quote.created event; the processor renders the
// tenant template and chains the actual send.
func (s *Server) ingestQuoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	tenant := s.authenticateTenant(r)
	if tenant == nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var req ingestQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.ingestQuoteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.LeadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("lead_id is required"))
		return
	}

	payload, err := models.MarshalPayload(models.QuotePayload{QuoteID: req.QuoteID, LeadID: req.LeadID})
	if err != nil {
		slog.Error("Server.ingestQuoteHandler: marshal payload", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Enqueue failed"))
		return
	}
	eventID, err := s.store.EnqueueOutboxEvent(tenant.ID, models.EventQuoteCreated, payload)
	if err != nil {
		slog.Error("Server.ingestQuoteHandler: enqueue failed", "tenantID", tenant.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Enqueue failed"))
		return
	}

	slog.Info("Server.ingestQuoteHandler: quote event enqueued", "tenantID", tenant.ID, "eventID", eventID)
	writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true, "event_id": eventID})
}
