package bot

import (
	"context"
	"sync"
)

// Fake is an in-memory Bot for tests and local runs.
type Fake struct {
	BotID  string
	Groups []Group

	mu   sync.Mutex
	sent []SentMessage
}

// SentMessage records one delivery made through a Fake.
type SentMessage struct {
	GroupID string
	UserID  string
	Message string
}

// NewFake creates a fake bot that is a member of the given groups.
func NewFake(botID string, groupIDs ...string) *Fake {
	groups := make([]Group, len(groupIDs))
	for i, id := range groupIDs {
		groups[i] = Group{GroupID: id}
	}
	return &Fake{BotID: botID, Groups: groups}
}

func (f *Fake) ID() string { return f.BotID }

func (f *Fake) SendGroupMessage(_ context.Context, groupID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{GroupID: groupID, Message: message})
	return nil
}

func (f *Fake) SendPrivateMessage(_ context.Context, userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{UserID: userID, Message: message})
	return nil
}

func (f *Fake) GroupList(context.Context) ([]Group, error) {
	return f.Groups, nil
}

// Sent returns a copy of all deliveries so far.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}
