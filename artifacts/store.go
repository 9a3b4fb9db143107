// Package artifacts implements the Artifact Store / RAG component (C2):
// a typed, card-scoped, append-only record of stage outputs, queryable
// by embedding similarity so later runs and the Supervisor's
// unexpected-state recovery path can learn from prior ones.
package artifacts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artemis-eng/artemis/core"
)

// Store is the Artifact Store. It keeps the full artifact history
// in-process for similarity search and mirrors every store() call to an
// append-only JSON-lines file under Dir, so history survives process
// restarts without needing a database.
type Store struct {
	mu        sync.RWMutex
	dir       string
	embedder  Embedder
	mmrLambda float64
	defaultK  int

	artifacts []core.Artifact
	logger    core.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithEmbedder overrides the default HashEmbedder.
func WithEmbedder(embedder Embedder) Option {
	return func(s *Store) { s.embedder = embedder }
}

// WithMMRLambda sets the relevance/diversity tradeoff used by
// QuerySimilarFiltered's reranking (lower values favor diversity, 1
// favors raw similarity; a value <= 0 falls back to 0.5).
func WithMMRLambda(lambda float64) Option {
	return func(s *Store) { s.mmrLambda = lambda }
}

// WithDefaultTopK sets the top_k used when a caller passes <= 0.
func WithDefaultTopK(k int) Option {
	return func(s *Store) { s.defaultK = k }
}

// WithLogger attaches a logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens (or creates) the artifact history file under dir and
// replays it into memory.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact store dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		embedder:  NewHashEmbedder(0),
		mmrLambda: 0.5,
		defaultK:  5,
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) logPath() string {
	return filepath.Join(s.dir, "artifacts.jsonl")
}

// Dir returns the directory this Store persists artifacts under, for
// callers (the final Report) that need to point a user at the
// evidence without reaching into the Store's internals.
func (s *Store) Dir() string {
	return s.dir
}

// LogPath returns the append-only JSON-lines file every artifact is
// mirrored to.
func (s *Store) LogPath() string {
	return s.logPath()
}

func (s *Store) replay() error {
	f, err := os.Open(s.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening artifact history: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var artifact core.Artifact
		if err := json.Unmarshal(line, &artifact); err != nil {
			continue
		}
		s.artifacts = append(s.artifacts, artifact)
	}
	return scanner.Err()
}

// Store persists a new artifact and returns its ID. Append-only: no
// method on Store ever mutates or removes an existing entry.
func (s *Store) Store(ctx context.Context, artifactType core.ArtifactType, cardID, taskTitle, content string, metadata map[string]interface{}) (string, error) {
	embedding := s.embedder.Embed(taskTitle + " " + content)

	artifact := core.Artifact{
		ArtifactID:   uuid.NewString(),
		ArtifactType: artifactType,
		CardID:       cardID,
		TaskTitle:    taskTitle,
		Content:      content,
		Metadata:     metadata,
		Embedding:    embedding,
		StoredAt:     time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendLocked(artifact); err != nil {
		return "", err
	}
	s.artifacts = append(s.artifacts, artifact)
	return artifact.ArtifactID, nil
}

func (s *Store) appendLocked(artifact core.Artifact) error {
	f, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening artifact history for append: %w", err)
	}
	defer f.Close()

	encoded, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	encoded = append(encoded, '\n')
	if _, err := f.Write(encoded); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	return nil
}

func matchesFilters(artifact core.Artifact, filters map[string]interface{}) bool {
	for k, v := range filters {
		if artifact.Metadata == nil {
			return false
		}
		if got, ok := artifact.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func matchesType(artifact core.Artifact, types []core.ArtifactType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if artifact.ArtifactType == t {
			return true
		}
	}
	return false
}

// QuerySimilarFiltered is the full query_similar operation: returns up
// to topK artifacts matching types and filters, ordered by cosine
// similarity to queryText (similarity >= 0 only — negative matches are
// dropped as "not similar" rather than "anti-similar"), reranked for
// diversity via MMR.
func (s *Store) QuerySimilarFiltered(ctx context.Context, queryText string, types []core.ArtifactType, topK int, filters map[string]interface{}) ([]ScoredArtifact, error) {
	if topK <= 0 {
		topK = s.defaultK
	}
	queryEmbedding := s.embedder.Embed(queryText)

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]ScoredArtifact, 0, len(s.artifacts))
	for _, artifact := range s.artifacts {
		if !matchesType(artifact, types) || !matchesFilters(artifact, filters) {
			continue
		}
		score := cosine(queryEmbedding, artifact.Embedding)
		if score < 0 {
			continue
		}
		candidates = append(candidates, ScoredArtifact{Artifact: artifact, Score: score})
	}

	return mmrSelect(candidates, topK, s.mmrLambda), nil
}

// QuerySimilar implements resilience.ArtifactQuerier: a single-type
// lookup returning the matches and the best match's similarity score,
// the narrow shape the Supervisor's unexpected-state recovery path
// needs. Errors are swallowed to nil/0 because the interface has no
// error return — a query failure there degrades to "no prior solution
// found", which is the safe default for that caller.
func (s *Store) QuerySimilar(ctx context.Context, artifactType core.ArtifactType, text string, topK int) ([]core.Artifact, float64) {
	results, err := s.QuerySimilarFiltered(ctx, text, []core.ArtifactType{artifactType}, topK, nil)
	if err != nil || len(results) == 0 {
		return nil, 0
	}
	artifacts := make([]core.Artifact, len(results))
	for i, r := range results {
		artifacts[i] = r.Artifact
	}
	return artifacts, results[0].Score
}
