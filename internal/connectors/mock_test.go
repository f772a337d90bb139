package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockHostRemovesOnlyPresentMembers(t *testing.T) {
	h := NewMockHost(false)
	h.SetMembers("g1", "1", "2", "3")
	ctx := context.Background()

	require.NoError(t, h.RemoveMember(ctx, "g1", "2"))
	require.ErrorIs(t, h.RemoveMember(ctx, "g1", "2"), ErrRejected)

	members, err := h.ListGroupMembers(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "3"}, members)
	require.Equal(t, []string{"2"}, h.Removed("g1"))

	_, err = h.ListGroupMembers(ctx, "nope")
	require.ErrorIs(t, err, ErrRejected)
}

func TestMockHostRespectsCancelledContext(t *testing.T) {
	h := NewMockHost(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, h.SendGroupMessage(ctx, "g1", "x"), context.Canceled)
	require.Empty(t, h.Messages("g1"))
}
