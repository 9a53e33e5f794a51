// Package bot defines the collaborator contracts between the core runtime
// and the connected chat-bot instances: message delivery and group listing.
package bot

import (
	"context"
	"sort"
	"sync"

	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// Group is one chat group visible to a bot.
type Group struct {
	GroupID string
	Name    string
}

// Bot is a connected bot instance.
type Bot interface {
	ID() string
	// SendGroupMessage delivers a message to a group.
	SendGroupMessage(ctx context.Context, groupID, message string) error
	// SendPrivateMessage delivers a message to a user.
	SendPrivateMessage(ctx context.Context, userID, message string) error
	// GroupList returns the groups this bot is a member of.
	GroupList(ctx context.Context) ([]Group, error)
}

// Registry tracks which bots are online. Process-local.
type Registry struct {
	mu   sync.RWMutex
	bots map[string]Bot
}

// NewRegistry creates an empty bot registry.
func NewRegistry() *Registry {
	return &Registry{bots: make(map[string]Bot)}
}

// Connect registers a bot as online.
func (r *Registry) Connect(b Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[b.ID()] = b
}

// Disconnect removes a bot.
func (r *Registry) Disconnect(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, botID)
}

// GetBot returns the bot with the given id, or any online bot when id is
// empty. Returns ErrBotOffline when no suitable bot is connected.
func (r *Registry) GetBot(botID string) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if botID != "" {
		b, ok := r.bots[botID]
		if !ok {
			return nil, errors.Wrapf(errors.ErrBotOffline, "bot %s", botID)
		}
		return b, nil
	}

	if len(r.bots) == 0 {
		return nil, errors.Wrap(errors.ErrBotOffline, "no bot connected")
	}

	// Deterministic pick: lowest id.
	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return r.bots[ids[0]], nil
}

// IDs returns the ids of all online bots, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send delivers a message to the session's group when present, otherwise to
// the user. Delivery errors are logged, never propagated.
func Send(ctx context.Context, b Bot, groupID, userID, message string) {
	var err error
	if groupID != "" {
		err = b.SendGroupMessage(ctx, groupID, message)
	} else {
		err = b.SendPrivateMessage(ctx, userID, message)
	}
	if err != nil {
		logger.Warnw("Message delivery failed",
			"bot_id", b.ID(),
			"group_id", groupID,
			"user_id", userID,
			"error", err,
		)
	}
}
