package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/patchbay-io/patchbay/internal/messaging"
	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/store"
	"github.com/patchbay-io/patchbay/internal/twiliosms"
)

func newTestProcessor(t *testing.T) (*Processor, *store.InMemoryStore, *twiliosms.FakeSender) {
	t.Helper()
	st := store.NewInMemoryStore()
	fake := twiliosms.NewFakeSender()
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	resolver := messaging.NewResolver(st, messaging.WithFakeSender(fake))
	return NewProcessor(st, resolver), st, fake
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	s, err := models.MarshalPayload(v)
	if err != nil {
		t.Fatalf("MarshalPayload: %v", err)
	}
	return s
}

func TestProcessDueSendsMessageAndMarksProcessed(t *testing.T) {
	p, st, fake := newTestProcessor(t)

	payload := mustMarshal(t, models.SendPayload{LeadID: "l1", To: "+15550001", Body: "hello"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventMessageSend, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}

	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}

	sent := fake.SentMessages()
	if len(sent) != 1 || sent[0].To != "+15550001" || sent[0].Body != "hello" {
		t.Fatalf("unexpected sends: %+v", sent)
	}

	msgs := st.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message row, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Direction != models.DirectionOutbound || m.Status != models.MessageStatusSent {
		t.Errorf("unexpected message record: %+v", m)
	}
	if m.ProviderMessageID == "" {
		t.Error("expected provider message id to be recorded")
	}
	if m.LeadID != "l1" {
		t.Errorf("expected lead id carried onto message, got %q", m.LeadID)
	}
}

func TestProcessDueNeverProcessesTwice(t *testing.T) {
	p, st, fake := newTestProcessor(t)

	payload := mustMarshal(t, models.SendPayload{To: "+15550001", Body: "once"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventMessageSend, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}

	if _, err := p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("first ProcessDue: %v", err)
	}
	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("second ProcessDue: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 processed on second run, got %d", n)
	}
	if len(fake.SentMessages()) != 1 {
		t.Errorf("expected exactly 1 send, got %d", len(fake.SentMessages()))
	}
}

func TestProcessDueSendFailureStillMarksProcessed(t *testing.T) {
	p, st, fake := newTestProcessor(t)
	fake.Err = errors.New("provider down")

	payload := mustMarshal(t, models.SendPayload{To: "+15550001", Body: "doomed"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventMessageSend, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}

	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed despite failure, got %d", n)
	}
	for _, e := range st.OutboxEvents() {
		if e.ProcessedAt == nil {
			t.Error("expected failed send row to be marked processed")
		}
	}
	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageStatusFailed {
		t.Errorf("expected failed message record, got %+v", msgs)
	}
}

func TestQuoteCreatedChainsSendWithTemplate(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", FirstName: "Ada", LastName: "Lovelace", Phone: "+15550001", ConsentSMS: true})
	st.AddTemplate(models.Template{TenantID: "t1", Key: "quote_sms", Content: "Hi {{first_name}} {{last_name}}, your quote is ready."})

	payload := mustMarshal(t, models.QuotePayload{QuoteID: "q1", LeadID: "l1"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventQuoteCreated, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}

	if _, err := p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	var chained []models.OutboxEvent
	for _, e := range st.OutboxEvents() {
		if e.EventType == models.EventMessageSend {
			chained = append(chained, e)
		}
	}
	if len(chained) != 1 {
		t.Fatalf("expected 1 chained send event, got %d", len(chained))
	}
	var sp models.SendPayload
	if err := models.UnmarshalPayload(chained[0].PayloadJSON, &sp); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if sp.To != "+15550001" {
		t.Errorf("expected chained send to lead phone, got %q", sp.To)
	}
	if sp.Body != "Hi Ada Lovelace, your quote is ready." {
		t.Errorf("unexpected rendered body: %q", sp.Body)
	}
}

func TestQuoteCreatedFallsBackToDefaultTemplate(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", Phone: "+15550001", ConsentSMS: true})

	payload := mustMarshal(t, models.QuotePayload{LeadID: "l1"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventQuoteCreated, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}
	if _, err := p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	for _, e := range st.OutboxEvents() {
		if e.EventType != models.EventMessageSend {
			continue
		}
		var sp models.SendPayload
		if err := models.UnmarshalPayload(e.PayloadJSON, &sp); err != nil {
			t.Fatalf("UnmarshalPayload: %v", err)
		}
		if sp.Body != DefaultQuoteMessage {
			t.Errorf("expected default quote body, got %q", sp.Body)
		}
		return
	}
	t.Fatal("expected a chained message.send event")
}

func TestQuoteCreatedNoPhoneSkipsSend(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	st.AddLead(models.Lead{ID: "l1", TenantID: "t1", ConsentSMS: true})

	payload := mustMarshal(t, models.QuotePayload{LeadID: "l1"})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventQuoteCreated, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}
	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected quote event processed, got %d", n)
	}
	for _, e := range st.OutboxEvents() {
		if e.EventType == models.EventMessageSend {
			t.Error("expected no chained send for phone-less lead")
		}
		if e.ProcessedAt == nil {
			t.Error("expected quote event marked processed")
		}
	}
}

func TestNotificationDispatchExpandsPerRule(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	st.AddRule(models.NotificationRule{TenantID: "t1", EventType: models.EventMessageReceived, Channel: models.ChannelSMS, Target: "+15550100"})
	st.AddRule(models.NotificationRule{TenantID: "t1", EventType: models.EventMessageReceived, Channel: models.ChannelSMS, Target: "+15550101"})
	st.AddRule(models.NotificationRule{TenantID: "t1", EventType: models.EventMessageReceived, Channel: "email", Target: "ops@example.com"})

	payload := mustMarshal(t, models.NotifyPayload{
		EventType: models.EventMessageReceived,
		From:      "+15550001",
		Body:      "New inbound message",
	})
	if _, err := st.EnqueueOutboxEvent("t1", models.EventNotificationDispatch, payload); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}
	if _, err := p.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	targets := map[string]bool{}
	for _, e := range st.OutboxEvents() {
		if e.EventType != models.EventMessageSend {
			continue
		}
		var sp models.SendPayload
		if err := models.UnmarshalPayload(e.PayloadJSON, &sp); err != nil {
			t.Fatalf("UnmarshalPayload: %v", err)
		}
		targets[sp.To] = true
		if sp.Body != "New inbound message" {
			t.Errorf("unexpected body: %q", sp.Body)
		}
	}
	if len(targets) != 2 || !targets["+15550100"] || !targets["+15550101"] {
		t.Errorf("expected exactly the two sms rule targets, got %v", targets)
	}
}

func TestNotificationQueueDrainedAfterOutbox(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	st.AddRule(models.NotificationRule{TenantID: "t1", EventType: models.EventMessageReceived, Channel: models.ChannelSMS, Target: "+15550100"})

	payload := mustMarshal(t, models.NotifyPayload{From: "+15550001", Body: "ping"})
	if _, err := st.EnqueueNotificationEvent("t1", models.EventMessageReceived, payload); err != nil {
		t.Fatalf("EnqueueNotificationEvent: %v", err)
	}

	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed notification, got %d", n)
	}
	for _, ne := range st.NotificationEvents() {
		if ne.ProcessedAt == nil {
			t.Error("expected notification event marked processed")
		}
	}

	var sends int
	for _, e := range st.OutboxEvents() {
		if e.EventType == models.EventMessageSend {
			sends++
		}
	}
	if sends != 1 {
		t.Errorf("expected 1 expanded send event, got %d", sends)
	}
}

func TestUnknownEventTypeDropped(t *testing.T) {
	p, st, fake := newTestProcessor(t)

	if _, err := st.EnqueueOutboxEvent("t1", models.EventType("mystery.event"), "{}"); err != nil {
		t.Fatalf("EnqueueOutboxEvent: %v", err)
	}
	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected unknown event marked processed, got %d", n)
	}
	if len(fake.SentMessages()) != 0 {
		t.Errorf("expected no sends for unknown event, got %d", len(fake.SentMessages()))
	}
}

func TestProcessDueRespectsBatchSize(t *testing.T) {
	p, st, _ := newTestProcessor(t)
	for i := 0; i < 12; i++ {
		payload := mustMarshal(t, models.SendPayload{To: "+15550001", Body: "batch"})
		if _, err := st.EnqueueOutboxEvent("t1", models.EventMessageSend, payload); err != nil {
			t.Fatalf("EnqueueOutboxEvent: %v", err)
		}
	}

	n, err := p.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != store.DefaultBatchSize {
		t.Errorf("expected batch bound %d, got %d", store.DefaultBatchSize, n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	p.opts.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
