package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

func writeCardFile(t *testing.T, card core.Card) string {
	t.Helper()
	raw, err := json.Marshal(card)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "card.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadCardReadsValidCardFile(t *testing.T) {
	path := writeCardFile(t, core.Card{CardID: "c-1", Title: "Fix typo"})
	card, err := LoadCard(core.CardConfig{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "c-1", card.CardID)
}

func TestLoadCardValidatesIDMatchesFileContent(t *testing.T) {
	path := writeCardFile(t, core.Card{CardID: "c-1"})
	_, err := LoadCard(core.CardConfig{Path: path, ID: "c-2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestLoadCardRejectsMissingPath(t *testing.T) {
	_, err := LoadCard(core.CardConfig{})
	require.Error(t, err)
}

func TestLoadCardRejectsFileWithoutCardID(t *testing.T) {
	path := writeCardFile(t, core.Card{Title: "no id"})
	_, err := LoadCard(core.CardConfig{Path: path})
	require.Error(t, err)
}
