package services

import (
	"context"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
)

// HubNotifier fans worker-side events out to the project channel. It
// satisfies the notifier the job handlers expect.
type HubNotifier struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewHubNotifier(hub *realtime.Hub, log *logger.Logger) *HubNotifier {
	return &HubNotifier{log: log.With("service", "HubNotifier"), hub: hub}
}

func (n *HubNotifier) Broadcast(ctx context.Context, projectID, eventType string, payload any) {
	event, err := realtime.NewEvent(eventType, payload)
	if err != nil {
		n.log.Warn("Dropping unencodable event", "event_type", eventType, "error", err)
		return
	}
	n.hub.Broadcast(ctx, realtime.ProjectChannel(projectID), event)
}
