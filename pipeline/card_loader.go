package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/artemis-eng/artemis/core"
)

// LoadCard reads the Card a run operates on from cfg.Path, a JSON file
// holding one Card document. When cfg.ID is also set it must match the
// loaded Card's card_id, catching a config document pointed at the
// wrong file. spec.md §6 names card_id as the one required invocation
// parameter; in practice the full Card body (title, description,
// acceptance criteria, ...) has to come from somewhere richer than a
// single ID, so this module treats CardConfig.Path as that source and
// CardConfig.ID as an optional integrity check against it.
func LoadCard(cfg core.CardConfig) (*core.Card, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: card.path is required to load a Card", core.ErrInvalidConfiguration)
	}
	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading card file %s: %v", core.ErrInvalidConfiguration, cfg.Path, err)
	}
	var card core.Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("%w: parsing card file %s: %v", core.ErrInvalidConfiguration, cfg.Path, err)
	}
	if card.CardID == "" {
		return nil, fmt.Errorf("%w: card file %s has no card_id", core.ErrInvalidConfiguration, cfg.Path)
	}
	if cfg.ID != "" && cfg.ID != card.CardID {
		return nil, fmt.Errorf("%w: card.id %q does not match card_id %q in %s", core.ErrInvalidConfiguration, cfg.ID, card.CardID, cfg.Path)
	}
	return &card, nil
}
