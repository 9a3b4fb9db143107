package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/artemis-eng/artemis/core"
)

// RedisStore is a Store backed by core.RedisClient (RedisDBMailbox),
// grounded on the teacher's pkg/memory.RedisMemory JSON-marshal-under-a-
// namespaced-key pattern. It lets the Messaging Bus survive process
// restarts and lets external agents on other processes share the same
// mailbox and shared-state blob, which a FileStore cannot do under
// concurrent writers on most filesystems.
type RedisStore struct {
	mu     sync.Mutex
	client *core.RedisClient
}

// NewRedisStore wraps an already-connected RedisClient.
func NewRedisStore(client *core.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func agentsKey() string            { return "agents" }
func inboxKey(agent string) string { return "inbox:" + agent }
func readKey(agent string) string  { return "read:" + agent }
func sharedKey(cardID string) string { return "shared:" + cardID }

func (s *RedisStore) Register(ctx context.Context, record AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents, err := s.loadAgentsLocked(ctx)
	if err != nil {
		return err
	}
	agents[record.Name] = record
	return s.saveAgentsLocked(ctx, agents)
}

func (s *RedisStore) loadAgentsLocked(ctx context.Context) (map[string]AgentRecord, error) {
	agents := make(map[string]AgentRecord)
	raw, err := s.client.Get(ctx, agentsKey())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return agents, nil
		}
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}
	if raw == "" {
		return agents, nil
	}
	if err := json.Unmarshal([]byte(raw), &agents); err != nil {
		return nil, fmt.Errorf("decoding agent registry: %w", err)
	}
	return agents, nil
}

func (s *RedisStore) saveAgentsLocked(ctx context.Context, agents map[string]AgentRecord) error {
	encoded, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("encoding agent registry: %w", err)
	}
	return s.client.Set(ctx, agentsKey(), string(encoded), 0)
}

func (s *RedisStore) Agents(ctx context.Context) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents, err := s.loadAgentsLocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, 0, len(agents))
	for _, a := range agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) Append(ctx context.Context, recipient string, msg *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _, err := s.inboxLocked(ctx, recipient)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if m.MessageID == msg.MessageID {
			return nil
		}
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return s.client.LPush(ctx, inboxKey(recipient), string(encoded))
}

func (s *RedisStore) inboxLocked(ctx context.Context, agentName string) ([]*core.Message, map[string]bool, error) {
	raw, err := s.client.LRange(ctx, inboxKey(agentName), 0, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("reading inbox: %w", err)
	}

	// LPush prepends, so raw is newest-first; reverse to recover send order.
	msgs := make([]*core.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg core.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}

	readSet := make(map[string]bool)
	rawRead, err := s.client.Get(ctx, readKey(agentName))
	if err == nil && rawRead != "" {
		_ = json.Unmarshal([]byte(rawRead), &readSet)
	}

	return msgs, readSet, nil
}

func (s *RedisStore) Inbox(ctx context.Context, agentName string) ([]*core.Message, map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inboxLocked(ctx, agentName)
}

func (s *RedisStore) MarkRead(ctx context.Context, agentName, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, readSet, err := s.inboxLocked(ctx, agentName)
	if err != nil {
		return err
	}
	readSet[messageID] = true

	encoded, err := json.Marshal(readSet)
	if err != nil {
		return fmt.Errorf("encoding read set: %w", err)
	}
	return s.client.Set(ctx, readKey(agentName), string(encoded), 0)
}

func (s *RedisStore) GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSharedLocked(ctx, cardID)
}

func (s *RedisStore) loadSharedLocked(ctx context.Context, cardID string) (map[string]interface{}, error) {
	blob := make(map[string]interface{})
	raw, err := s.client.Get(ctx, sharedKey(cardID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return blob, nil
		}
		return nil, fmt.Errorf("loading shared state: %w", err)
	}
	if raw == "" {
		return blob, nil
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, fmt.Errorf("decoding shared state: %w", err)
	}
	return blob, nil
}

func (s *RedisStore) UpdateSharedState(ctx context.Context, cardID string, delta map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadSharedLocked(ctx, cardID)
	if err != nil {
		return nil, err
	}
	for k, v := range delta {
		current[k] = v
	}

	encoded, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encoding shared state: %w", err)
	}
	if err := s.client.Set(ctx, sharedKey(cardID), string(encoded), 0); err != nil {
		return nil, fmt.Errorf("saving shared state: %w", err)
	}
	return cloneBlob(current), nil
}
