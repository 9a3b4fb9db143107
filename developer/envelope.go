package developer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artemis-eng/artemis/core"
)

// envelope is the JSON shape the LLM Gateway's response must satisfy,
// per spec.md §4.8 step 2.
type envelope struct {
	ImplementationFiles []File `json:"implementation_files"`
	TestFiles           []File `json:"test_files"`
	Notes               string `json:"notes"`
}

// parseEnvelope decodes content as an envelope, tolerating a response
// wrapped in a markdown code fence (a common LLM quirk this engine
// must not treat as malformed). An unparseable envelope is a
// ContractViolation, per spec.md §7.
func parseEnvelope(content string) (*envelope, error) {
	trimmed := stripCodeFence(content)

	var e envelope
	if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
		return nil, fmt.Errorf("%w: developer response is not valid JSON: %v", core.ErrContractViolation, err)
	}
	if len(e.ImplementationFiles) == 0 {
		return nil, fmt.Errorf("%w: developer response has no implementation_files", core.ErrContractViolation)
	}
	return &e, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
