package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"echohub/internal/microservices/http-api/dto"
	"echohub/internal/microservices/tcp"

	"github.com/gin-gonic/gin"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// EchoServerStatus is the part of the echo server the status API reads.
type EchoServerStatus interface {
	State() tcp.ServerState
	BoundAddr() string
	DroppedEvents() int64
}

// SessionSource is satisfied by *tcp.SessionManager.
type SessionSource interface {
	Active() (tcp.SessionRecord, bool)
	Totals() tcp.Totals
	Recent(ctx context.Context, limit int) ([]*tcp.SessionRecord, error)
}

type StatusHandler struct {
	server   EchoServerStatus
	sessions SessionSource
}

func NewStatusHandler(server EchoServerStatus, sessions SessionSource) *StatusHandler {
	return &StatusHandler{server: server, sessions: sessions}
}

func (h *StatusHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/check-conn", h.CheckConn)
	r.GET("/status", h.Status)
	r.GET("/sessions", h.Sessions)
}

func (h *StatusHandler) CheckConn(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "status API is alive"})
}

// Status handles GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	resp := dto.StatusResponse{
		State:         h.server.State().String(),
		Addr:          h.server.BoundAddr(),
		Totals:        h.sessions.Totals(),
		DroppedEvents: h.server.DroppedEvents(),
		CheckedAt:     time.Now().UTC(),
	}
	if active, ok := h.sessions.Active(); ok {
		s := dto.SessionFromRecord(active)
		resp.ActiveSession = &s
	}
	c.JSON(http.StatusOK, resp)
}

// Sessions handles GET /sessions?limit=N
func (h *StatusHandler) Sessions(c *gin.Context) {
	limit := defaultSessionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSessionLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	recs, err := h.sessions.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]dto.SessionDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, dto.SessionFromRecord(*r))
	}
	c.JSON(http.StatusOK, dto.SessionListResponse{Sessions: out, Count: len(out)})
}

// NewRouter builds the gin engine for the status API.
func NewRouter(h *StatusHandler, mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw...)
	h.RegisterRoutes(r)
	return r
}
