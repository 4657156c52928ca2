package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

// StreamChannels are the channels a client may subscribe to.
var StreamChannels = []string{
	realtime.ChannelWarehouse,
	realtime.ChannelBeryll,
	realtime.ChannelDefects,
	realtime.ChannelDevices,
	realtime.ChannelProduction,
	realtime.ChannelAudit,
}

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// GET /api/events/stream?channels=warehouse,beryll
func (h *RealtimeHandler) Stream(c *gin.Context) {
	p := ctxutil.GetPrincipal(c.Request.Context())
	if p == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	channels, err := parseChannels(c.Query("channels"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channels", err)
		return
	}

	client := h.hub.NewSSEClient(p.UserID)
	for _, ch := range channels {
		h.hub.AddChannel(client, ch)
	}
	h.log.Info("SSE stream open", "user_id", p.UserID.String(), "client_id", client.ID.String(), "channels", channels)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.hub.CloseClient(client)
}

// parseChannels defaults to every channel when raw is empty.
func parseChannels(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return StreamChannels, nil
	}
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		ch := strings.ToLower(strings.TrimSpace(part))
		if ch == "" || seen[ch] {
			continue
		}
		if !knownChannel(ch) {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
		seen[ch] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		return StreamChannels, nil
	}
	return out, nil
}

func knownChannel(ch string) bool {
	for _, c := range StreamChannels {
		if c == ch {
			return true
		}
	}
	return false
}
