package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

type fakeSession struct {
	id       string
	userID   string
	userName string

	mu     sync.Mutex
	events []Event
	fail   bool
}

func newFakeSession(userID, userName string) *fakeSession {
	return &fakeSession{id: uuid.NewString(), userID: userID, userName: userName}
}

func (s *fakeSession) ID() string       { return s.id }
func (s *fakeSession) UserID() string   { return s.userID }
func (s *fakeSession) UserName() string { return s.userName }
func (s *fakeSession) Close()           {}

func (s *fakeSession) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSession) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSession) typesSeen() []string {
	var out []string
	for _, e := range s.received() {
		out = append(out, e.Type)
	}
	return out
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("dev")
	require.NoError(t, err)
	return NewHub(NewLocalBus(), log)
}

func TestJoinAnnouncesAndListsUsers(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	alice := newFakeSession("u-alice", "Alice")
	require.NoError(t, hub.Join(ctx, "p1", alice))

	// The joiner gets the snapshot, not their own announcement.
	require.Equal(t, []string{EventUserList}, alice.typesSeen())

	bob := newFakeSession("u-bob", "Bob")
	require.NoError(t, hub.Join(ctx, "p1", bob))

	// Alice saw Bob's join, attributed to him.
	events := alice.received()
	require.Len(t, events, 2)
	joined := events[1]
	require.Equal(t, EventUserJoined, joined.Type)
	assert.Equal(t, "u-bob", joined.UserID)

	// Bob's snapshot lists both users, sorted by user id.
	bobEvents := bob.received()
	require.Equal(t, []string{EventUserList}, bob.typesSeen())
	var list []PresenceEntry
	require.NoError(t, json.Unmarshal(bobEvents[0].Payload, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "u-alice", list[0].UserID)
	assert.Equal(t, "u-bob", list[1].UserID)
}

func TestLeaveAnnouncesDeparture(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	alice := newFakeSession("u-alice", "Alice")
	bob := newFakeSession("u-bob", "Bob")
	require.NoError(t, hub.Join(ctx, "p1", alice))
	require.NoError(t, hub.Join(ctx, "p1", bob))

	hub.Leave(ctx, "p1", bob)

	events := alice.received()
	last := events[len(events)-1]
	require.Equal(t, EventUserLeft, last.Type)
	assert.Equal(t, "u-bob", last.UserID)
	var entry PresenceEntry
	require.NoError(t, json.Unmarshal(last.Payload, &entry))
	assert.Equal(t, "u-bob", entry.UserID)

	// Bob is gone from presence and receives nothing further.
	presence := hub.Presence(ProjectChannel("p1"))
	require.Len(t, presence, 1)
	assert.Equal(t, "u-alice", presence[0].UserID)
	require.Equal(t, []string{EventUserList}, bob.typesSeen())
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	sender := newFakeSession("u1", "One")
	peer := newFakeSession("u2", "Two")
	hub.Subscribe(ProjectChannel("p1"), sender)
	hub.Subscribe(ProjectChannel("p1"), peer)

	event, err := NewEvent("cursor_move", map[string]float64{"x": 10, "y": 20})
	require.NoError(t, err)
	event.UserID = sender.UserID()
	hub.Broadcast(ctx, ProjectChannel("p1"), event, sender.ID())

	assert.Empty(t, sender.received())
	require.Len(t, peer.received(), 1)
	got := peer.received()[0]
	assert.Equal(t, "cursor_move", got.Type)
	assert.Equal(t, "u1", got.UserID)
}

func TestItemChannelAnnouncesAnnotators(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	first := newFakeSession("u1", "One")
	require.NoError(t, hub.JoinItem(ctx, "item-1", first))
	assert.Empty(t, first.received())

	second := newFakeSession("u2", "Two")
	require.NoError(t, hub.JoinItem(ctx, "item-1", second))

	require.Len(t, first.received(), 1)
	joined := first.received()[0]
	assert.Equal(t, EventAnnotatorJoined, joined.Type)
	assert.Equal(t, "u2", joined.UserID)
	assert.Empty(t, second.received())

	hub.LeaveItem(ctx, "item-1", second)
	events := first.received()
	require.Len(t, events, 2)
	assert.Equal(t, EventAnnotatorLeft, events[1].Type)
	assert.Equal(t, "u2", events[1].UserID)
}

func TestBroadcastIsChannelScoped(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	inProject := newFakeSession("u1", "One")
	onItem := newFakeSession("u2", "Two")
	hub.Subscribe(ProjectChannel("p1"), inProject)
	hub.Subscribe(ItemChannel("item-9"), onItem)

	event, err := NewEvent(EventAnnotationCreated, map[string]string{"annotation_id": "a1"})
	require.NoError(t, err)
	hub.Broadcast(ctx, ItemChannel("item-9"), event)

	assert.Empty(t, inProject.received())
	require.Len(t, onItem.received(), 1)
	assert.Equal(t, EventAnnotationCreated, onItem.received()[0].Type)
}

func TestDeadSessionsAreReaped(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	healthy := newFakeSession("u1", "One")
	dead := newFakeSession("u2", "Two")
	dead.fail = true
	hub.Subscribe(ProjectChannel("p1"), healthy)
	hub.Subscribe(ProjectChannel("p1"), dead)

	event, err := NewEvent(EventIndexingProgress, map[string]int{"completed": 3})
	require.NoError(t, err)
	hub.Broadcast(ctx, ProjectChannel("p1"), event)

	// The dead session is gone; presence only lists the healthy one.
	presence := hub.Presence(ProjectChannel("p1"))
	require.Len(t, presence, 1)
	assert.Equal(t, "u1", presence[0].UserID)

	require.Len(t, healthy.received(), 1)
}

func TestUnsubscribeAllRemovesEverywhere(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	s := newFakeSession("u1", "One")
	hub.Subscribe(ProjectChannel("p1"), s)
	hub.Subscribe(ItemChannel("item-1"), s)

	hub.UnsubscribeAll(s.ID())

	event, err := NewEvent(EventCursor, map[string]float64{"x": 1, "y": 2})
	require.NoError(t, err)
	hub.Broadcast(ctx, ProjectChannel("p1"), event)
	hub.Broadcast(ctx, ItemChannel("item-1"), event)
	assert.Empty(t, s.received())
}
