package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/store"
	"github.com/patchbay-io/patchbay/internal/twiliosms"
)

// capturingFactory records the credentials each built sender was given and
// routes sends into a shared FakeSender.
type capturingFactory struct {
	creds  []string
	sender *twiliosms.FakeSender
}

func (c *capturingFactory) build(accountSID, authToken string) (twiliosms.Sender, error) {
	c.creds = append(c.creds, accountSID+":"+authToken)
	return c.sender, nil
}

func TestSendUsesTenantCredentialsFirst(t *testing.T) {
	st := store.NewInMemoryStore()
	st.AddCredentials(models.MessagingCredentials{
		TenantID:   "t1",
		Provider:   models.ProviderTwilio,
		AccountSID: "ACtenant",
		AuthToken:  "tok_tenant",
		FromNumber: "+15550000",
	})
	factory := &capturingFactory{sender: twiliosms.NewFakeSender()}

	r := NewResolver(st,
		WithDefaultCredentials("ACdefault", "tok_default"),
		WithTwilioSenderFactory(factory.build),
	)

	res, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(factory.creds) != 1 || factory.creds[0] != "ACtenant:tok_tenant" {
		t.Errorf("expected tenant credentials to be used, got %v", factory.creds)
	}
	if res.Provider != models.ProviderTwilio {
		t.Errorf("expected twilio provider, got %s", res.Provider)
	}
	if res.Status != models.MessageStatusQueued {
		t.Errorf("expected queued status for twilio, got %s", res.Status)
	}
	if res.FromNumber != "+15550000" {
		t.Errorf("expected tenant from number, got %q", res.FromNumber)
	}
}

func TestSendFallsBackToDefaultCredentials(t *testing.T) {
	st := store.NewInMemoryStore()
	factory := &capturingFactory{sender: twiliosms.NewFakeSender()}

	r := NewResolver(st,
		WithDefaultCredentials("ACdefault", "tok_default"),
		WithDefaultFromNumber("+15559999"),
		WithTwilioSenderFactory(factory.build),
	)

	res, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(factory.creds) != 1 || factory.creds[0] != "ACdefault:tok_default" {
		t.Errorf("expected default credentials to be used, got %v", factory.creds)
	}
	if res.FromNumber != "+15559999" {
		t.Errorf("expected default from number, got %q", res.FromNumber)
	}
}

func TestSendFallsBackToFakeProvider(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := twiliosms.NewFakeSender()

	// Clear any ambient Twilio environment so resolution must hit the fake.
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	r := NewResolver(st, WithFakeSender(fake))

	res, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Provider != models.ProviderFake {
		t.Errorf("expected fake provider, got %s", res.Provider)
	}
	if res.Status != models.MessageStatusSent {
		t.Errorf("expected sent status for fake provider, got %s", res.Status)
	}
	if !strings.HasPrefix(res.ProviderMessageID, "fake_") {
		t.Errorf("expected fake_ provider message id, got %q", res.ProviderMessageID)
	}
	if len(fake.SentMessages()) != 1 {
		t.Fatalf("expected 1 recorded send, got %d", len(fake.SentMessages()))
	}
}

func TestSendExplicitFromWins(t *testing.T) {
	st := store.NewInMemoryStore()
	st.AddCredentials(models.MessagingCredentials{
		TenantID: "t1",
		Provider: models.ProviderFake,
	})
	fake := twiliosms.NewFakeSender()
	r := NewResolver(st, WithFakeSender(fake))

	if _, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001", From: "+15557777", Body: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := fake.SentMessages()
	if len(sent) != 1 || sent[0].From != "+15557777" {
		t.Errorf("expected explicit from to win, got %+v", sent)
	}
}

func TestSendValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResolver(st, WithFakeSender(twiliosms.NewFakeSender()))

	if _, err := r.Send(context.Background(), SendRequest{TenantID: "t1", Body: "hi"}); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if _, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001"}); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestSendPropagatesProviderError(t *testing.T) {
	st := store.NewInMemoryStore()
	fake := twiliosms.NewFakeSender()
	fake.Err = errors.New("provider unavailable")
	r := NewResolver(st, WithFakeSender(fake))

	if _, err := r.Send(context.Background(), SendRequest{TenantID: "t1", To: "+15550001", Body: "hi"}); err == nil {
		t.Fatal("expected error from failing provider")
	}
}
