package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artemis-eng/artemis/core"
)

// Bus is the Messaging Bus (C1): agent presence, inbox delivery, and a
// per-card shared-state blob. It is a thin coordinator over a Store —
// all durability and concurrency guarantees live there.
type Bus struct {
	store  Store
	logger core.Logger
}

// NewBus wraps a Store. Pass a *FileStore for the single-process default
// or a *RedisStore when MessagingConfig.RedisURL is set.
func NewBus(store Store, logger core.Logger) *Bus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Bus{store: store, logger: logger}
}

// Register records agentName's presence and capability list. Capabilities
// are opaque strings the Planner and external agents interpret on their
// own; the Bus never inspects them.
func (b *Bus) Register(ctx context.Context, agentName string, capabilities []string, status string) error {
	if agentName == "" {
		return fmt.Errorf("%w: agent name is required", core.ErrInvalidConfiguration)
	}
	return b.store.Register(ctx, AgentRecord{
		Name:         agentName,
		Capabilities: capabilities,
		Status:       status,
		RegisteredAt: time.Now(),
	})
}

// Send persists msg to its recipient's inbox, or fans out one copy per
// currently-registered agent when ToAgent is core.BroadcastRecipient.
// Agents that register after the broadcast do not retroactively receive
// it, matching the spec's delivery semantics. Send assigns MessageID and
// Timestamp when unset so callers never have to generate them by hand.
func (b *Bus) Send(ctx context.Context, msg *core.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is required", core.ErrInvalidConfiguration)
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ProtocolVersion == "" {
		msg.ProtocolVersion = core.ProtocolVersion
	}

	if msg.ToAgent == core.BroadcastRecipient {
		agents, err := b.store.Agents(ctx)
		if err != nil {
			return fmt.Errorf("listing agents for broadcast: %w", err)
		}
		for _, agent := range agents {
			if err := b.store.Append(ctx, agent.Name, msg); err != nil {
				return fmt.Errorf("delivering broadcast to %s: %w", agent.Name, err)
			}
		}
		return nil
	}

	return b.store.Append(ctx, msg.ToAgent, msg)
}

// Read returns agentName's inbox filtered by filter, highest priority
// first and FIFO within a priority band.
func (b *Bus) Read(ctx context.Context, agentName string, filter core.MessageFilter) ([]*core.Message, error) {
	msgs, readSet, err := b.store.Inbox(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("reading inbox for %s: %w", agentName, err)
	}

	matched := make([]*core.Message, 0, len(msgs))
	for _, msg := range msgs {
		unread := !readSet[msg.MessageID]
		if filter.Matches(msg, unread) {
			matched = append(matched, msg)
		}
	}

	core.SortMessages(matched)
	return matched, nil
}

// MarkRead transitions messageID out of agentName's unread set.
func (b *Bus) MarkRead(ctx context.Context, agentName, messageID string) error {
	return b.store.MarkRead(ctx, agentName, messageID)
}

// GetSharedState returns a copy of cardID's shared-state blob.
func (b *Bus) GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error) {
	return b.store.GetSharedState(ctx, cardID)
}

// UpdateSharedState shallow-overlays delta onto cardID's shared-state
// blob (keys present in delta overwrite, everything else is preserved)
// and returns the blob after the merge.
func (b *Bus) UpdateSharedState(ctx context.Context, cardID string, delta map[string]interface{}) (map[string]interface{}, error) {
	return b.store.UpdateSharedState(ctx, cardID, delta)
}
