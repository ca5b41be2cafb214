package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// Event types flowing over the collaboration fabric.
const (
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserList          = "user_list"
	EventAnnotatorJoined   = "annotator_joined"
	EventAnnotatorLeft     = "annotator_left"
	EventCursor            = "cursor"
	EventItemLocked        = "item_locked"
	EventItemUnlocked      = "item_unlocked"
	EventAnnotationCreated = "annotation_created"
	EventAnnotationUpdated = "annotation_updated"
	EventAnnotationDeleted = "annotation_deleted"
	EventMediaIndexed      = "media_indexed"
	EventIndexingProgress  = "indexing_progress"
	EventTrainingProgress  = "training_progress"
	EventExportReady       = "export_ready"
	EventPing              = "ping"
	EventPong              = "pong"
)

// Event is one message on a channel. Payload stays raw so the hub never
// re-marshals what services produced. UserID names the sender on client
// relays so receivers know who moved the cursor or locked the item.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// Session is one connected client. Send must not block indefinitely;
// a failed send marks the session dead and the hub reaps it.
type Session interface {
	ID() string
	UserID() string
	UserName() string
	Send(event Event) error
	Close()
}

// ProjectChannel and ItemChannel name the two channel classes.
func ProjectChannel(projectID string) string { return "project:" + projectID }
func ItemChannel(itemID string) string       { return "item:" + itemID }

type Hub struct {
	log *logger.Logger
	bus Bus

	mu       sync.RWMutex
	channels map[string]map[string]Session
}

func NewHub(bus Bus, log *logger.Logger) *Hub {
	if bus == nil {
		bus = NewLocalBus()
	}
	return &Hub{
		log:      log.With("service", "RealtimeHub"),
		bus:      bus,
		channels: make(map[string]map[string]Session),
	}
}

// Run wires the hub into the bus so events published by OTHER instances
// reach local sessions; the bus never loops this instance's own events
// back. Blocks until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	return h.bus.Subscribe(ctx, func(channel string, event Event, exclude string) {
		h.deliverLocal(channel, event, exclude)
	})
}

func (h *Hub) Subscribe(channel string, session Session) {
	h.mu.Lock()
	sessions, ok := h.channels[channel]
	if !ok {
		sessions = make(map[string]Session)
		h.channels[channel] = sessions
	}
	sessions[session.ID()] = session
	h.mu.Unlock()
}

func (h *Hub) Unsubscribe(channel string, sessionID string) {
	h.mu.Lock()
	if sessions, ok := h.channels[channel]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}

// UnsubscribeAll drops a session from every channel it joined.
func (h *Hub) UnsubscribeAll(sessionID string) {
	h.mu.Lock()
	for channel, sessions := range h.channels {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers to local sessions and publishes through the bus so
// sessions on other instances see the event too. An optional exclude
// session id keeps the sender from receiving its own relayed event.
func (h *Hub) Broadcast(ctx context.Context, channel string, event Event, exclude ...string) {
	var skip string
	if len(exclude) > 0 {
		skip = exclude[0]
	}
	h.deliverLocal(channel, event, skip)
	if err := h.bus.Publish(ctx, channel, event, skip); err != nil {
		h.log.Warn("Bus publish failed; delivered locally only", "channel", channel, "error", err)
	}
}

// deliverLocal fans an event out to local subscribers. Dead sessions are
// collected during iteration and reaped after, so the read lock is never
// upgraded mid-loop.
func (h *Hub) deliverLocal(channel string, event Event, exclude string) {
	h.mu.RLock()
	sessions := make([]Session, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	var dead []string
	for _, s := range sessions {
		if exclude != "" && s.ID() == exclude {
			continue
		}
		if err := s.Send(event); err != nil {
			dead = append(dead, s.ID())
		}
	}
	for _, id := range dead {
		h.log.Debug("Reaping dead session", "session_id", id, "channel", channel)
		h.Unsubscribe(channel, id)
	}
}

// PresenceEntry is one connected user in a project, as sent in user_list.
type PresenceEntry struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Presence lists distinct users on a channel, sorted by user id for
// stable payloads.
func (h *Hub) Presence(channel string) []PresenceEntry {
	h.mu.RLock()
	byUser := make(map[string]PresenceEntry)
	for _, s := range h.channels[channel] {
		byUser[s.UserID()] = PresenceEntry{UserID: s.UserID(), UserName: s.UserName()}
	}
	h.mu.RUnlock()

	out := make([]PresenceEntry, 0, len(byUser))
	for _, entry := range byUser {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Join subscribes a session to a project, announces it to everyone
// already there, and sends the current user list to the joiner only.
func (h *Hub) Join(ctx context.Context, projectID string, session Session) error {
	channel := ProjectChannel(projectID)
	h.Subscribe(channel, session)

	joined, err := NewEvent(EventUserJoined, PresenceEntry{UserID: session.UserID(), UserName: session.UserName()})
	if err != nil {
		return err
	}
	joined.UserID = session.UserID()
	h.Broadcast(ctx, channel, joined, session.ID())

	list, err := NewEvent(EventUserList, h.Presence(channel))
	if err != nil {
		return err
	}
	return session.Send(list)
}

// Leave removes the session everywhere and announces the departure.
func (h *Hub) Leave(ctx context.Context, projectID string, session Session) {
	channel := ProjectChannel(projectID)
	h.UnsubscribeAll(session.ID())

	left, err := NewEvent(EventUserLeft, PresenceEntry{UserID: session.UserID(), UserName: session.UserName()})
	if err == nil {
		left.UserID = session.UserID()
		h.Broadcast(ctx, channel, left, session.ID())
	}
}

// JoinItem subscribes a session to a single item channel and announces
// the new annotator to everyone already editing it.
func (h *Hub) JoinItem(ctx context.Context, itemID string, session Session) error {
	channel := ItemChannel(itemID)
	h.Subscribe(channel, session)

	joined, err := NewEvent(EventAnnotatorJoined, PresenceEntry{UserID: session.UserID(), UserName: session.UserName()})
	if err != nil {
		return err
	}
	joined.UserID = session.UserID()
	h.Broadcast(ctx, channel, joined, session.ID())
	return nil
}

// LeaveItem drops the session and announces the annotator's departure.
func (h *Hub) LeaveItem(ctx context.Context, itemID string, session Session) {
	channel := ItemChannel(itemID)
	h.UnsubscribeAll(session.ID())

	left, err := NewEvent(EventAnnotatorLeft, PresenceEntry{UserID: session.UserID(), UserName: session.UserName()})
	if err == nil {
		left.UserID = session.UserID()
		h.Broadcast(ctx, channel, left, session.ID())
	}
}
