package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/patchbay-io/patchbay/internal/models"
)

func producerRequest(method, path, token, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestSendMessageHappyPath(t *testing.T) {
	srv, st, fake := newTestServer(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", Phone: "+15550001", ConsentSMS: true})
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", testIngestToken,
		`{"lead_id":"l1","to":"+15550001","body":"hello there"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ok"] != true {
		t.Errorf("expected ok response, got %v", resp)
	}
	pid, _ := resp["provider_id"].(string)
	if !strings.HasPrefix(pid, "fake_") {
		t.Errorf("expected fake provider id, got %q", pid)
	}

	if len(fake.SentMessages()) != 1 {
		t.Fatalf("expected 1 send, got %d", len(fake.SentMessages()))
	}
	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageStatusSent || msgs[0].LeadID != "l1" {
		t.Errorf("unexpected message record: %+v", msgs)
	}
}

func TestSendMessageUnauthorized(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", "",
		`{"lead_id":"l1","to":"+15550001","body":"hi"}`))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", "tok_wrong",
		`{"lead_id":"l1","to":"+15550001","body":"hi"}`))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with unknown token, got %d", w.Code)
	}
}

func TestSendMessageLeadNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", testIngestToken,
		`{"lead_id":"missing","to":"+15550001","body":"hi"}`))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSendMessageConsentGate(t *testing.T) {
	srv, st, fake := newTestServer(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", Phone: "+15550001", ConsentSMS: false})
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", testIngestToken,
		`{"lead_id":"l1","to":"+15550001","body":"hi"}`))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for opted-out lead, got %d", w.Code)
	}
	if len(fake.SentMessages()) != 0 {
		t.Error("expected no send for opted-out lead")
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", Phone: "+15550001", ConsentSMS: true})
	handler := srv.Handler()

	body := `{"lead_id":"l1","to":"+15550001","body":"hi"}`
	for i := 0; i < sendBucketCap; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", testIngestToken, body))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/messages/send", testIngestToken, body))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d sends, got %d", sendBucketCap, w.Code)
	}
}

func TestIngestLead(t *testing.T) {
	srv, st, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/leads", testIngestToken,
		`{"first_name":"Ada","last_name":"Lovelace","phone":"+15550002"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	leads := st.Leads()
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}
	if !leads[0].ConsentSMS {
		t.Error("new leads default to consenting")
	}

	notes := st.NotificationEvents()
	if len(notes) != 1 || notes[0].EventType != models.EventLeadCreated {
		t.Fatalf("expected 1 lead.created notification, got %+v", notes)
	}
	var np models.NotifyPayload
	if err := models.UnmarshalPayload(notes[0].PayloadJSON, &np); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if !strings.Contains(np.Body, "Ada Lovelace") {
		t.Errorf("unexpected notification body: %q", np.Body)
	}
}

func TestIngestQuoteEnqueuesEvent(t *testing.T) {
	srv, st, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/quotes", testIngestToken,
		`{"quote_id":"q1","lead_id":"l1"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	events := st.OutboxEvents()
	if len(events) != 1 || events[0].EventType != models.EventQuoteCreated {
		t.Fatalf("expected 1 quote.created event, got %+v", events)
	}
	var qp models.QuotePayload
	if err := models.UnmarshalPayload(events[0].PayloadJSON, &qp); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if qp.QuoteID != "q1" || qp.LeadID != "l1" {
		t.Errorf("unexpected payload: %+v", qp)
	}
}

func TestIngestQuoteRequiresLeadID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, producerRequest(http.MethodPost, "/v1/quotes", testIngestToken, `{"quote_id":"q1"}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without lead_id, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}
