// Package messaging implements the Messaging Bus (C1): agent
// registration, inbox delivery, and a shared-state blob that any
// registered agent — internal stage or external process — can read and
// overlay-merge into. The default backend is a JSON-lines audit log plus
// a JSON shared-state file under MailboxRoot, the same local-filesystem
// persistence the teacher favors for its own `core.InMemoryStore` before
// reaching for Redis; a Redis-backed Store (redis_store.go) is a drop-in
// replacement once MessagingConfig.RedisURL is set.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// AgentRecord is what register() persists about a participant.
type AgentRecord struct {
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store is the persistence abstraction the Bus drives. Every method is
// safe for concurrent use — the Bus itself adds no locking of its own,
// trusting the Store to serialize read-modify-write sequences the way
// the teacher's RedisMemory and InMemoryStore both do internally.
type Store interface {
	Register(ctx context.Context, record AgentRecord) error
	Agents(ctx context.Context) ([]AgentRecord, error)

	// Append adds msg to recipient's inbox. Idempotent on msg.MessageID:
	// re-appending a message already present for that recipient is a
	// no-op, satisfying send()'s at-least-once/idempotent contract.
	Append(ctx context.Context, recipient string, msg *core.Message) error

	// Inbox returns every message ever delivered to agentName, in send
	// order, along with the set of MessageIDs already marked read.
	Inbox(ctx context.Context, agentName string) ([]*core.Message, map[string]bool, error)

	MarkRead(ctx context.Context, agentName, messageID string) error

	GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error)
	UpdateSharedState(ctx context.Context, cardID string, delta map[string]interface{}) (map[string]interface{}, error)
}

// FileStore is the default Store: an in-process mailbox index backed by
// an append-only JSON-lines audit log per agent
// (<MailboxRoot>/logs/<agent>.log) and a single JSON file holding the
// shared-state blob (SharedStatePath), matching the spec's on-disk
// layout exactly. A single mutex guards all operations — the spec's own
// concurrency model only requires the shared-state overlay to be
// atomic, but serializing the whole store is simpler and this engine is
// single-host, so there is no throughput reason to split the lock.
type FileStore struct {
	mu              sync.Mutex
	mailboxRoot     string
	sharedStatePath string

	agents      map[string]AgentRecord
	inboxes     map[string][]*core.Message
	read        map[string]map[string]bool
	seenMessage map[string]map[string]bool
	sharedState map[string]map[string]interface{}

	logger core.Logger
}

// NewFileStore creates a FileStore rooted at mailboxRoot, creating the
// logs directory eagerly so the first send() doesn't race directory
// creation against a concurrent read.
func NewFileStore(mailboxRoot, sharedStatePath string, logger core.Logger) (*FileStore, error) {
	logsDir := filepath.Join(mailboxRoot, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mailbox logs dir: %w", err)
	}

	fs := &FileStore{
		mailboxRoot:     mailboxRoot,
		sharedStatePath: sharedStatePath,
		agents:          make(map[string]AgentRecord),
		inboxes:         make(map[string][]*core.Message),
		read:            make(map[string]map[string]bool),
		seenMessage:     make(map[string]map[string]bool),
		sharedState:     make(map[string]map[string]interface{}),
		logger:          logger,
	}

	if err := fs.loadSharedState(); err != nil {
		return nil, err
	}

	return fs, nil
}

func (fs *FileStore) loadSharedState() error {
	data, err := os.ReadFile(fs.sharedStatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading shared state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var onDisk map[string]map[string]interface{}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return fmt.Errorf("parsing shared state file: %w", err)
	}
	fs.sharedState = onDisk
	return nil
}

// persistSharedStateLocked writes the full shared-state blob atomically
// (temp file + rename) so a crash mid-write never leaves a truncated
// file behind, the same durability discipline the Checkpoint Manager
// uses for its own state file.
func (fs *FileStore) persistSharedStateLocked() error {
	data, err := json.MarshalIndent(fs.sharedState, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding shared state: %w", err)
	}
	dir := filepath.Dir(fs.sharedStatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating shared state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".shared_state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp shared state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp shared state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp shared state file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.sharedStatePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp shared state file: %w", err)
	}
	return nil
}

// auditRecord is one line of an agent's JSON-lines log.
type auditRecord struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Message   *core.Message `json:"message"`
}

func (fs *FileStore) appendAudit(agentName, event string, msg *core.Message) {
	path := filepath.Join(fs.mailboxRoot, "logs", agentName+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if fs.logger != nil {
			fs.logger.Warn("failed to open mailbox audit log", map[string]interface{}{
				"agent": agentName,
				"error": err.Error(),
			})
		}
		return
	}
	defer f.Close()

	record := auditRecord{Event: event, Timestamp: time.Now(), Message: msg}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	encoded = append(encoded, '\n')
	_, _ = f.Write(encoded)
}

func (fs *FileStore) Register(ctx context.Context, record AgentRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.agents[record.Name] = record
	return nil
}

func (fs *FileStore) Agents(ctx context.Context) ([]AgentRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]AgentRecord, 0, len(fs.agents))
	for _, a := range fs.agents {
		out = append(out, a)
	}
	return out, nil
}

func (fs *FileStore) Append(ctx context.Context, recipient string, msg *core.Message) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	seen := fs.seenMessage[recipient]
	if seen == nil {
		seen = make(map[string]bool)
		fs.seenMessage[recipient] = seen
	}
	if seen[msg.MessageID] {
		return nil
	}
	seen[msg.MessageID] = true
	fs.inboxes[recipient] = append(fs.inboxes[recipient], msg)
	fs.appendAudit(recipient, "receive", msg)
	return nil
}

func (fs *FileStore) Inbox(ctx context.Context, agentName string) ([]*core.Message, map[string]bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	msgs := make([]*core.Message, len(fs.inboxes[agentName]))
	copy(msgs, fs.inboxes[agentName])

	readSet := make(map[string]bool, len(fs.read[agentName]))
	for id, v := range fs.read[agentName] {
		readSet[id] = v
	}
	return msgs, readSet, nil
}

func (fs *FileStore) MarkRead(ctx context.Context, agentName, messageID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.read[agentName] == nil {
		fs.read[agentName] = make(map[string]bool)
	}
	fs.read[agentName][messageID] = true
	return nil
}

func (fs *FileStore) GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return cloneBlob(fs.sharedState[cardID]), nil
}

func (fs *FileStore) UpdateSharedState(ctx context.Context, cardID string, delta map[string]interface{}) (map[string]interface{}, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	current := fs.sharedState[cardID]
	if current == nil {
		current = make(map[string]interface{})
	}
	for k, v := range delta {
		current[k] = v
	}
	fs.sharedState[cardID] = current

	if err := fs.persistSharedStateLocked(); err != nil {
		return nil, err
	}
	return cloneBlob(current), nil
}

func cloneBlob(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
