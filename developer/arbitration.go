package developer

import (
	"context"
	"strings"
)

// CandidateScore is one candidate's breakdown on the fixed 100-point
// rubric from spec.md §4.8, plus the total and a human-readable
// rationale for each dimension.
type CandidateScore struct {
	WorkerID               int     `json:"worker_id"`
	SyntaxAndStructure     float64 `json:"syntax_and_structure"`
	TDDCompliance          float64 `json:"tdd_compliance"`
	TestCoverage           float64 `json:"test_coverage"`
	TestQuality            float64 `json:"test_quality"`
	FunctionalCorrectness  float64 `json:"functional_correctness"`
	CodeQuality            float64 `json:"code_quality"`
	SimplicityBonus        float64 `json:"simplicity_bonus"`
	Total                  float64 `json:"total"`
	ArtifactSize           int     `json:"artifact_size"`
}

// Arbitrator scores competing DeveloperResults and selects a winner.
// Grounded directly on spec.md §4.8's rubric table; each dimension's
// "source of truth" is approximated with a static, dependency-free
// heuristic over the candidate's generated text (a real static
// analyzer or coverage tool is out of this module's scope the same way
// a real embedding model is — see artifacts.HashEmbedder's comment for
// the identical reasoning). When a SandboxRunner is supplied,
// FunctionalCorrectness additionally credits a candidate whose test
// files execute without error.
type Arbitrator struct {
	sandbox SandboxRunner
}

// NewArbitrator constructs an Arbitrator. sandbox may be nil, in which
// case FunctionalCorrectness falls back to a purely static heuristic.
func NewArbitrator(sandbox SandboxRunner) *Arbitrator {
	return &Arbitrator{sandbox: sandbox}
}

// Score evaluates every successful candidate in results (failed
// workers are skipped) and returns their scores in the order of
// results; Invoker.Invoke already returns results by worker_id
// ascending, per spec.md §5's reproducibility requirement.
func (a *Arbitrator) Score(ctx context.Context, results []DeveloperResult, acceptanceCriteria []string) []CandidateScore {
	scores := make([]CandidateScore, 0, len(results))
	for _, r := range results {
		if r.Status != "success" {
			continue
		}
		scores = append(scores, a.scoreOne(ctx, r, acceptanceCriteria))
	}
	return scores
}

func (a *Arbitrator) scoreOne(ctx context.Context, r DeveloperResult, acceptanceCriteria []string) CandidateScore {
	implText := joinFiles(r.ImplementationFiles)
	testText := joinFiles(r.TestFiles)
	size := len(implText) + len(testText)

	s := CandidateScore{
		WorkerID:              r.WorkerID,
		SyntaxAndStructure:    scoreSyntax(implText),
		TDDCompliance:         scoreTDD(r),
		TestCoverage:          scoreTestCoverage(implText, testText),
		TestQuality:           scoreTestQuality(testText),
		FunctionalCorrectness: a.scoreFunctionalCorrectness(ctx, r, acceptanceCriteria),
		CodeQuality:           scoreCodeQuality(implText),
		ArtifactSize:          size,
	}
	s.Total = s.SyntaxAndStructure + s.TDDCompliance + s.TestCoverage + s.TestQuality + s.FunctionalCorrectness + s.CodeQuality
	return s
}

func joinFiles(files []File) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// scoreSyntax rewards a non-empty implementation with balanced
// braces/parens — a cheap proxy for "parses cleanly".
func scoreSyntax(impl string) float64 {
	if strings.TrimSpace(impl) == "" {
		return 0
	}
	score := 10.0
	if balanced(impl, '{', '}') {
		score += 5
	}
	if balanced(impl, '(', ')') {
		score += 5
	}
	return score
}

func balanced(s string, open, close rune) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case open:
			depth++
		case close:
			depth--
		}
		if depth < 0 {
			return false
		}
	}
	return depth == 0
}

// scoreTDD rewards a candidate that shipped test files at all, and
// more if its notes claim a tests-first approach.
func scoreTDD(r DeveloperResult) float64 {
	if len(r.TestFiles) == 0 {
		return 0
	}
	score := 6.0
	if strings.Contains(strings.ToLower(r.Notes), "test-first") || strings.Contains(strings.ToLower(r.Notes), "tdd") {
		score += 4
	}
	return score
}

// scoreTestCoverage approximates coverage by the ratio of test lines
// to implementation lines, tiered per spec.md's "measured coverage
// (tiered)" language.
func scoreTestCoverage(impl, test string) float64 {
	implLines := nonBlankLines(impl)
	testLines := nonBlankLines(test)
	if implLines == 0 {
		return 0
	}
	ratio := float64(testLines) / float64(implLines)
	switch {
	case ratio >= 1.0:
		return 15
	case ratio >= 0.6:
		return 11
	case ratio >= 0.3:
		return 7
	case ratio > 0:
		return 3
	default:
		return 0
	}
}

func nonBlankLines(s string) int {
	count := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// scoreTestQuality rewards the presence of an assertion marker and the
// number of test functions.
func scoreTestQuality(test string) float64 {
	if strings.TrimSpace(test) == "" {
		return 0
	}
	lower := strings.ToLower(test)
	score := 5.0
	assertionMarkers := []string{"assert", "expect", "require"}
	for _, marker := range assertionMarkers {
		if strings.Contains(lower, marker) {
			score += 5
			break
		}
	}
	funcCount := strings.Count(lower, "func test") + strings.Count(lower, "def test")
	switch {
	case funcCount >= 5:
		score += 10
	case funcCount >= 2:
		score += 6
	case funcCount >= 1:
		score += 3
	}
	if score > 20 {
		score = 20
	}
	return score
}

// scoreFunctionalCorrectness checks acceptance-criteria keyword
// coverage in the implementation, optionally boosted by an actual
// sandbox run of the test files when a SandboxRunner is configured.
func (a *Arbitrator) scoreFunctionalCorrectness(ctx context.Context, r DeveloperResult, acceptanceCriteria []string) float64 {
	implText := strings.ToLower(joinFiles(r.ImplementationFiles))
	matched := 0
	for _, criterion := range acceptanceCriteria {
		words := strings.Fields(strings.ToLower(criterion))
		for _, w := range words {
			if len(w) > 4 && strings.Contains(implText, w) {
				matched++
				break
			}
		}
	}
	base := 5.0
	if len(acceptanceCriteria) > 0 {
		base = 10 * float64(matched) / float64(len(acceptanceCriteria))
	}

	if a.sandbox != nil && len(r.TestFiles) > 0 {
		result, err := a.sandbox.Execute(ctx, joinFiles(r.TestFiles), "python", true)
		if err == nil {
			if success, _ := result["success"].(bool); success {
				base += 5
			}
		}
	}
	if base > 15 {
		base = 15
	}
	return base
}

// scoreCodeQuality rewards comments and penalizes very long lines.
func scoreCodeQuality(impl string) float64 {
	if strings.TrimSpace(impl) == "" {
		return 0
	}
	score := 7.0
	if strings.Contains(impl, "//") || strings.Contains(impl, "#") {
		score += 4
	}
	longLines := 0
	for _, line := range strings.Split(impl, "\n") {
		if len(line) > 120 {
			longLines++
		}
	}
	if longLines == 0 {
		score += 4
	}
	if score > 15 {
		score = 15
	}
	return score
}

// Winner applies spec.md §4.8's winner-selection rule: highest total
// wins; ties break by (1) smaller artifact (simplicity bonus), (2)
// higher test coverage, (3) conservative profile preference. Returns
// the winning score's index into scores, or -1 if scores is empty.
func Winner(scores []CandidateScore, profileOf map[int]string) int {
	if len(scores) == 0 {
		return -1
	}
	applySimplicityBonus(scores)

	best := 0
	for i := 1; i < len(scores); i++ {
		if better(scores[i], scores[best], profileOf) {
			best = i
		}
	}
	return best
}

// applySimplicityBonus awards the full 5-point bonus to whichever
// candidate has the smallest ArtifactSize among those being compared.
func applySimplicityBonus(scores []CandidateScore) {
	if len(scores) == 0 {
		return
	}
	smallest := scores[0].ArtifactSize
	for _, s := range scores {
		if s.ArtifactSize < smallest {
			smallest = s.ArtifactSize
		}
	}
	for i := range scores {
		if scores[i].ArtifactSize == smallest {
			scores[i].SimplicityBonus = 5
			scores[i].Total += 5
		}
	}
}

func better(a, b CandidateScore, profileOf map[int]string) bool {
	if a.Total != b.Total {
		return a.Total > b.Total
	}
	if a.SimplicityBonus != b.SimplicityBonus {
		return a.SimplicityBonus > b.SimplicityBonus
	}
	if a.TestCoverage != b.TestCoverage {
		return a.TestCoverage > b.TestCoverage
	}
	if profileOf != nil {
		aConservative := profileOf[a.WorkerID] == "conservative"
		bConservative := profileOf[b.WorkerID] == "conservative"
		if aConservative != bConservative {
			return aConservative
		}
	}
	return false
}
