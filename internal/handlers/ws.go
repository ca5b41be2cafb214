package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients cannot set Authorization headers on sockets, so
	// origin filtering happens at the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RealtimeHandler struct {
	log      *logger.Logger
	auth     services.AuthService
	projects services.ProjectService
	items    repos.DatasetItemRepo
	datasets repos.DatasetRepo
	hub      *realtime.Hub
}

func NewRealtimeHandler(
	auth services.AuthService,
	projects services.ProjectService,
	items repos.DatasetItemRepo,
	datasets repos.DatasetRepo,
	hub *realtime.Hub,
	log *logger.Logger,
) *RealtimeHandler {
	return &RealtimeHandler{
		log:      log.With("handler", "RealtimeHandler"),
		auth:     auth,
		projects: projects,
		items:    items,
		datasets: datasets,
		hub:      hub,
	}
}

// authenticate validates the ?token= query parameter after the upgrade.
// Failures close the socket with the 4001 application code so clients
// can distinguish auth errors from transport errors.
func (h *RealtimeHandler) authenticate(c *gin.Context, conn *websocket.Conn) *types.User {
	token := c.Query("token")
	if token == "" {
		realtime.RejectUnauthorized(conn)
		return nil
	}
	user, err := h.auth.ParseToken(c.Request.Context(), token)
	if err != nil {
		realtime.RejectUnauthorized(conn)
		return nil
	}
	return user
}

// ProjectSocket serves /ws/projects/:project_id. The session joins the
// project channel and its client events (cursor moves) are rebroadcast
// to everyone on it.
func (h *RealtimeHandler) ProjectSocket(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	user := h.authenticate(c, conn)
	if user == nil {
		return
	}
	if _, err := h.projects.MemberRole(c.Request.Context(), projectID, user.ID); err != nil {
		realtime.RejectUnauthorized(conn)
		return
	}

	session := realtime.NewWSSession(conn, user.ID.String(), user.FullName)
	channel := realtime.ProjectChannel(projectID.String())
	ctx := c.Request.Context()
	if err := h.hub.Join(ctx, projectID.String(), session); err != nil {
		h.log.Warn("Project join failed", "project_id", projectID.String(), "error", err)
		session.Close()
		return
	}

	go session.WritePump(ctx)
	session.ReadPump(ctx, func(event realtime.Event) {
		event.UserID = session.UserID()
		h.hub.Broadcast(ctx, channel, event, session.ID())
	})
	h.hub.Leave(ctx, projectID.String(), session)
}

// AnnotateSocket serves /ws/annotate/:item_id for a single dataset
// item. Access follows the item's project membership.
func (h *RealtimeHandler) AnnotateSocket(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	user := h.authenticate(c, conn)
	if user == nil {
		return
	}
	item, err := h.items.GetByID(c.Request.Context(), nil, itemID)
	if err != nil {
		realtime.RejectUnauthorized(conn)
		return
	}
	dataset, err := h.datasets.GetByID(c.Request.Context(), nil, item.DatasetID)
	if err != nil {
		realtime.RejectUnauthorized(conn)
		return
	}
	if _, err := h.projects.MemberRole(c.Request.Context(), dataset.ProjectID, user.ID); err != nil {
		realtime.RejectUnauthorized(conn)
		return
	}

	session := realtime.NewWSSession(conn, user.ID.String(), user.FullName)
	channel := realtime.ItemChannel(itemID.String())
	ctx := c.Request.Context()
	if err := h.hub.JoinItem(ctx, itemID.String(), session); err != nil {
		h.log.Warn("Item join failed", "item_id", itemID.String(), "error", err)
		session.Close()
		return
	}

	go session.WritePump(ctx)
	session.ReadPump(ctx, func(event realtime.Event) {
		event.UserID = session.UserID()
		h.hub.Broadcast(ctx, channel, event, session.ID())
	})
	h.hub.LeaveItem(ctx, itemID.String(), session)
}
