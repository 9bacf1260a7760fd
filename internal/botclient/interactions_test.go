package botclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionToggleAndConfirm(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	store := NewInteractionStore(0, func() time.Time { return now })

	store.Start("4242", 3, ActionApply, []string{"first", "second", "third", "None of the above/Unsure"})

	_, _, err := store.Confirm("4242")
	require.ErrorIs(t, err, ErrNothingSelected)

	_, err = store.Toggle("4242", 2)
	require.NoError(t, err)
	_, err = store.Toggle("4242", 0)
	require.NoError(t, err)
	_, err = store.Toggle("4242", 2)
	require.NoError(t, err)
	interaction, err := store.Toggle("4242", 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, interaction.Selected)

	_, err = store.Toggle("4242", 9)
	assert.ErrorIs(t, err, ErrConditionIndex)

	confirmed, selected, err := store.Confirm("4242")
	require.NoError(t, err)
	assert.Equal(t, uint(3), confirmed.BoxID)
	assert.Equal(t, ActionApply, confirmed.Action)
	assert.Equal(t, []string{"first", "second"}, selected)

	_, err = store.Get("4242")
	assert.ErrorIs(t, err, ErrInteractionExpired)
}

func TestInteractionExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	store := NewInteractionStore(0, func() time.Time { return now })
	store.Start("4242", 5, ActionHold, []string{"a", "b"})

	now = now.Add(InteractionTTL)
	_, err := store.Get("4242")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Toggle("4242", 0)
	assert.ErrorIs(t, err, ErrInteractionExpired)
	assert.Empty(t, store.Users())
}

func TestInteractionStartReplacesAndCancel(t *testing.T) {
	store := NewInteractionStore(time.Minute, nil)
	store.Start("4242", 1, ActionApply, []string{"a"})
	store.Start("4242", 2, ActionHold, []string{"b"})

	interaction, err := store.Get("4242")
	require.NoError(t, err)
	assert.Equal(t, uint(2), interaction.BoxID)

	cancelled, ok := store.Cancel("4242")
	assert.True(t, ok)
	assert.Equal(t, ActionHold, cancelled.Action)

	_, ok = store.Cancel("4242")
	assert.False(t, ok)
}

func TestInteractionSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	store := NewInteractionStore(0, func() time.Time { return now })
	store.Start("old", 1, ActionApply, []string{"a"})
	now = now.Add(6 * time.Minute)
	store.Start("new", 2, ActionApply, []string{"b"})
	now = now.Add(5 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, []string{"new"}, store.Users())
}

func TestInteractionReturnsCopies(t *testing.T) {
	store := NewInteractionStore(0, nil)
	started := store.Start("4242", 1, ActionApply, []string{"a", "b"})
	started.Conditions[0] = "mutated"

	interaction, err := store.Get("4242")
	require.NoError(t, err)
	assert.Equal(t, "a", interaction.Conditions[0])
}
