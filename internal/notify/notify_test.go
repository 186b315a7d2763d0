package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc func(context.Context, Event) error

func (f sinkFunc) Deliver(ctx context.Context, event Event) error { return f(ctx, event) }

func TestBridgeSwallowsSinkFailures(t *testing.T) {
	var logs bytes.Buffer
	inbox := NewMemoryInbox(10)
	failing := sinkFunc(func(context.Context, Event) error { return errors.New("redis down") })
	panicking := sinkFunc(func(context.Context, Event) error { panic("boom") })

	bridge := NewBridge(zerolog.New(&logs), failing, panicking, inbox)
	require.NotPanics(t, func() {
		bridge.Push(context.Background(), Event{ID: "ntf_1", Type: VersionCreated, ContentID: "cnt_1", Recipients: []string{"ed"}})
	})

	events, err := inbox.List(context.Background(), "ed", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].CreatedAt.IsZero())
	assert.NotNil(t, events[0].Payload)

	assert.Contains(t, logs.String(), "redis down")
	assert.Contains(t, logs.String(), "sink panicked: boom")
}

func TestBridgeDeliversAfterRequestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var delivered bool
	bridge := NewBridge(zerolog.Nop(), sinkFunc(func(ctx context.Context, _ Event) error {
		delivered = ctx.Err() == nil
		return nil
	}))
	bridge.Push(ctx, Event{Type: PRUpdated})
	assert.True(t, delivered)
}

func TestNilBridgeIsNoop(t *testing.T) {
	var bridge *Bridge
	assert.NotPanics(t, func() { bridge.Push(context.Background(), Event{Type: PROpened}) })
}

func TestRecipientsExcludesActorAndDuplicates(t *testing.T) {
	got := Recipients("owner", []string{"owner", "ed", ""}, []string{"rev", "ed"})
	assert.Equal(t, []string{"ed", "rev"}, got)
	assert.Empty(t, Recipients("owner", []string{"owner"}))
}

func TestMemoryInboxCapsAndOrders(t *testing.T) {
	inbox := NewMemoryInbox(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, inbox.Deliver(ctx, Event{ID: id, Recipients: []string{"ed"}}))
	}

	events, err := inbox.List(ctx, "ed", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].ID)
	assert.Equal(t, "b", events[1].ID)

	limited, err := inbox.List(ctx, "ed", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	empty, err := inbox.List(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
