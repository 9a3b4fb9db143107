package artifacts

import (
	"math"
	"sort"

	"github.com/artemis-eng/artemis/core"
)

// cosine returns the cosine similarity of a and b, 0 for mismatched or
// empty vectors — grounded on the retrieval pack's own RAG similarity
// helper (yungbote-neurobridge-backend's chat/steps/math.go cosine()),
// carried over unchanged since cosine similarity has exactly one
// reasonable implementation.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ScoredArtifact pairs an Artifact with its similarity to a query.
type ScoredArtifact struct {
	Artifact core.Artifact
	Score    float64
}

// mmrSelect reranks candidates (already sorted by descending Score) for
// diversity using Maximal Marginal Relevance: each pick balances
// similarity to the query (Score) against similarity to artifacts
// already selected, so top_k doesn't return k near-duplicates of the
// same prior incident. Grounded on the same source file's mmrSelect(),
// adapted from the chat-doc domain to ScoredArtifact.
func mmrSelect(candidates []ScoredArtifact, k int, lambda float64) []ScoredArtifact {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	if lambda <= 0 {
		lambda = 0.5
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	selected := make([]ScoredArtifact, 0, k)
	used := make([]bool, len(candidates))

	selected = append(selected, candidates[0])
	used[0] = true

	for len(selected) < k {
		bestIdx := -1
		bestVal := math.Inf(-1)

		for i, cand := range candidates {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosine(cand.Artifact.Embedding, s.Artifact.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*cand.Score - (1.0-lambda)*maxSim
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
	}

	return selected
}
