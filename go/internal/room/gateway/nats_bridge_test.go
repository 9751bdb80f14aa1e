package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/room/events"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []BroadcastMessage
}

func (p *recordingPublisher) Publish(message BroadcastMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func testEvent(t *testing.T, roomID string) *events.RoomEvent {
	t.Helper()
	ev, err := events.NewRoomEvent(roomID, events.EventTypeStopPlaying, events.StopPlayingPayload{}, epoch)
	require.NoError(t, err)
	return ev
}

func TestBridgeDeliversForeignMessagesOnly(t *testing.T) {
	t.Parallel()
	cm := NewConnectionManager(DefaultConnectionConfig(), clockwork.NewFakeClockAt(epoch))
	b := &NATSBridge{conns: cm, origin: "self"}

	encode := func(origin, roomID string) []byte {
		data, err := json.Marshal(bridgeMessage{Origin: origin, Message: BroadcastMessage{RoomID: roomID, Event: testEvent(t, roomID)}})
		require.NoError(t, err)
		return data
	}

	type testCase struct {
		name      string
		subject   string
		data      []byte
		delivered bool
	}

	tests := []testCase{
		{name: "own message", subject: Subject("abc123"), data: encode("self", "abc123")},
		{name: "garbage", subject: Subject("abc123"), data: []byte("{")},
		{name: "room mismatch", subject: Subject("abc123"), data: encode("other", "def456")},
		{name: "foreign message", subject: Subject("abc123"), data: encode("other", "abc123"), delivered: true},
	}

	for _, tc := range tests {
		b.handle(tc.subject, tc.data)
		if !tc.delivered {
			assert.Empty(t, cm.broadcastCh, tc.name)
			continue
		}
		require.Len(t, cm.broadcastCh, 1, tc.name)
		got := <-cm.broadcastCh
		assert.True(t, got.Remote)
		assert.Equal(t, "abc123", got.RoomID)
	}
}

func TestRemoteMessagesAreNotRepublished(t *testing.T) {
	t.Parallel()
	cm := NewConnectionManager(DefaultConnectionConfig(), clockwork.NewFakeClockAt(epoch))
	pub := &recordingPublisher{}
	cm.SetPublisher(pub)

	cm.handleBroadcast(BroadcastMessage{RoomID: "abc123", Event: testEvent(t, "abc123")})
	cm.handleBroadcast(BroadcastMessage{RoomID: "abc123", Event: testEvent(t, "abc123"), Remote: true})

	require.Len(t, pub.messages, 1)
	assert.False(t, pub.messages[0].Remote)
	assert.Equal(t, "timeline.rooms.abc123", Subject("abc123"))
}
