package messaging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "mailbox"), filepath.Join(dir, "shared_state.json"), nil)
	require.NoError(t, err)
	return NewBus(store, nil)
}

func TestBusSendAndReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	require.NoError(t, bus.Register(ctx, "worker-1", []string{"build"}, "idle"))

	err := bus.Send(ctx, &core.Message{
		FromAgent:   "orchestrator",
		ToAgent:     "worker-1",
		MessageType: core.MessageNotification,
		CardID:      "c-1",
	})
	require.NoError(t, err)

	msgs, err := bus.Read(ctx, "worker-1", core.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "orchestrator", msgs[0].FromAgent)
	assert.NotEmpty(t, msgs[0].MessageID)
}

func TestBusSendIsIdempotentOnMessageID(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	msg := &core.Message{MessageID: "fixed-id", FromAgent: "a", ToAgent: "b"}
	require.NoError(t, bus.Send(ctx, msg))
	require.NoError(t, bus.Send(ctx, msg))

	msgs, err := bus.Read(ctx, "b", core.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "re-sending the same message_id must not duplicate the inbox entry")
}

func TestBusBroadcastFansOutToRegisteredAgentsOnly(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	require.NoError(t, bus.Register(ctx, "agent-a", nil, "idle"))
	require.NoError(t, bus.Register(ctx, "agent-b", nil, "idle"))

	require.NoError(t, bus.Send(ctx, &core.Message{FromAgent: "orchestrator", ToAgent: core.BroadcastRecipient}))

	// Register after the broadcast — must not retroactively receive it.
	require.NoError(t, bus.Register(ctx, "agent-c", nil, "idle"))

	for _, name := range []string{"agent-a", "agent-b"} {
		msgs, err := bus.Read(ctx, name, core.MessageFilter{})
		require.NoError(t, err)
		assert.Len(t, msgs, 1, "agent %s should have received the broadcast", name)
	}

	msgsC, err := bus.Read(ctx, "agent-c", core.MessageFilter{})
	require.NoError(t, err)
	assert.Empty(t, msgsC, "agent registered after the broadcast must not receive it")
}

func TestBusReadOrdersHighPriorityFirstThenFIFO(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "1", ToAgent: "w", Priority: core.PriorityLow}))
	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "2", ToAgent: "w", Priority: core.PriorityHigh}))
	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "3", ToAgent: "w", Priority: core.PriorityLow}))
	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "4", ToAgent: "w", Priority: core.PriorityHigh}))

	msgs, err := bus.Read(ctx, "w", core.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	ids := []string{msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID, msgs[3].MessageID}
	assert.Equal(t, []string{"2", "4", "1", "3"}, ids)
}

func TestBusReadFiltersUnreadOnly(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "1", ToAgent: "w"}))
	require.NoError(t, bus.Send(ctx, &core.Message{MessageID: "2", ToAgent: "w"}))
	require.NoError(t, bus.MarkRead(ctx, "w", "1"))

	msgs, err := bus.Read(ctx, "w", core.MessageFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].MessageID)
}

func TestBusSharedStateOverlayMergePreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	_, err := bus.UpdateSharedState(ctx, "c-1", map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)

	merged, err := bus.UpdateSharedState(ctx, "c-1", map[string]interface{}{"b": 3, "c": 4})
	require.NoError(t, err)

	assert.EqualValues(t, 1, merged["a"])
	assert.EqualValues(t, 3, merged["b"])
	assert.EqualValues(t, 4, merged["c"])

	fetched, err := bus.GetSharedState(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, merged, fetched)
}

func TestBusSendRejectsNilMessage(t *testing.T) {
	bus := newTestBus(t)
	err := bus.Send(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestFileStorePersistsSharedStateAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mailboxRoot := filepath.Join(dir, "mailbox")
	sharedStatePath := filepath.Join(dir, "shared_state.json")

	store1, err := NewFileStore(mailboxRoot, sharedStatePath, nil)
	require.NoError(t, err)
	_, err = store1.UpdateSharedState(ctx, "c-1", map[string]interface{}{"key": "value"})
	require.NoError(t, err)

	store2, err := NewFileStore(mailboxRoot, sharedStatePath, nil)
	require.NoError(t, err)
	blob, err := store2.GetSharedState(ctx, "c-1")
	require.NoError(t, err)
	assert.EqualValues(t, "value", blob["key"])
}
