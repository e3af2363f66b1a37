package twiliosms

import (
	"context"
	"sync"

	"github.com/patchbay-io/patchbay/internal/util"
)

// FakeSender records sends in memory and synthesizes provider SIDs. It stands
// in for the live client in tests and for tenants with no real credentials.
type FakeSender struct {
	mu   sync.Mutex
	Sent []FakeSentMessage

	// Err, when set, is returned by every SendSMS call.
	Err error
}

// FakeSentMessage is one recorded send.
type FakeSentMessage struct {
	To                  string
	From                string
	MessagingServiceSID string
	Body                string
	SID                 string
}

// NewFakeSender creates an empty FakeSender.
func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

// SendSMS records the message and returns a synthetic fake_ SID.
func (f *FakeSender) SendSMS(ctx context.Context, to, from, messagingServiceSID, body string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	sid := util.GenerateRandomID("fake_", 16)
	f.mu.Lock()
	f.Sent = append(f.Sent, FakeSentMessage{
		To:                  to,
		From:                from,
		MessagingServiceSID: messagingServiceSID,
		Body:                body,
		SID:                 sid,
	})
	f.mu.Unlock()
	return sid, nil
}

// SentMessages returns a copy of everything sent so far.
func (f *FakeSender) SentMessages() []FakeSentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeSentMessage, len(f.Sent))
	copy(out, f.Sent)
	return out
}
