package artifacts

import (
	"context"

	"github.com/artemis-eng/artemis/core"
)

// recommendationArtifactTypes are the three types recommendations()
// restricts its similarity search to, per spec.md §4.2.
var recommendationArtifactTypes = []core.ArtifactType{
	core.ArtifactArbitrationScore,
	core.ArtifactIntegrationResult,
	core.ArtifactTestingResult,
}

// Winning-technology and blocker conventions: an arbitration_score
// artifact's Metadata carries "winning_technology" (the Developer
// candidate that was selected); an integration_result or
// testing_result artifact's Metadata carries "blockers" as a
// []string of what went wrong. Stages populate these keys when they
// call Store().
const (
	MetadataWinningTechnology = "winning_technology"
	MetadataBlockers          = "blockers"
)

// stringSlice reads a []string metadata value regardless of whether it
// came straight from a Store() call in this process ([]string) or was
// replayed from the JSON-lines history file, where every array decodes
// as []interface{}.
func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Recommendations runs a similarity query restricted to
// arbitration_score/integration_result/testing_result artifacts and
// aggregates winning technologies and blockers across the matches.
func (s *Store) Recommendations(ctx context.Context, taskDescription string, contextHint map[string]interface{}) (core.Recommendations, error) {
	query := taskDescription
	if title, ok := contextHint["task_title"].(string); ok && title != "" {
		query = title + " " + taskDescription
	}

	matches, err := s.QuerySimilarFiltered(ctx, query, recommendationArtifactTypes, s.defaultK, nil)
	if err != nil {
		return core.Recommendations{}, err
	}

	seenRecommend := make(map[string]bool)
	seenAvoid := make(map[string]bool)
	recommend := make([]string, 0)
	avoid := make([]string, 0)
	distinctTasks := make(map[string]bool)

	for _, m := range matches {
		distinctTasks[m.Artifact.CardID] = true

		if tech, ok := m.Artifact.Metadata[MetadataWinningTechnology].(string); ok && tech != "" {
			if !seenRecommend[tech] {
				seenRecommend[tech] = true
				recommend = append(recommend, tech)
			}
		}

		for _, blocker := range stringSlice(m.Artifact.Metadata[MetadataBlockers]) {
			if blocker != "" && !seenAvoid[blocker] {
				seenAvoid[blocker] = true
				avoid = append(avoid, blocker)
			}
		}
	}

	similarTaskCount := len(distinctTasks)
	return core.Recommendations{
		SimilarTasksCount: similarTaskCount,
		Confidence:        core.ConfidenceFor(similarTaskCount),
		Recommend:         recommend,
		Avoid:             avoid,
	}, nil
}
