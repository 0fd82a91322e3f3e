package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/auth"
	"github.com/renewtech/livechat/backend/internal/config"
)

// Handler upgrades HTTP requests to chat websocket connections
type Handler struct {
	hub      *ChatHub
	cfg      *config.Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new websocket Handler
func NewHandler(hub *ChatHub, cfg *config.Config, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	return &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// ServeVisitor handles visitor websocket upgrades. Visitors may connect
// anonymously; a valid token upgrades them to a known principal.
func (h *Handler) ServeVisitor(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if token := auth.ExtractToken(r); token != "" {
		if claims, err := auth.ValidateToken(token); err == nil {
			userID = claims.UserID
		} else {
			h.logger.Debug().Err(err).Msg("visitor token rejected, connecting as guest")
		}
	}
	if userID == "" {
		userID = "guest-" + uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade visitor connection")
		return
	}

	client := NewClient(h.hub, conn, RoleVisitor, userID, h.cfg, h.logger)
	h.hub.register <- client
	client.Start()
}

// ServeStaff handles staff websocket upgrades. The route is mounted
// behind the auth middleware, so claims are always present.
func (h *Handler) ServeStaff(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade staff connection")
		return
	}

	client := NewClient(h.hub, conn, RoleStaff, claims.UserID, h.cfg, h.logger)
	client.displayName = claims.Name
	client.department = claims.Department
	client.maxChats = claims.MaxChats
	h.hub.register <- client
	client.Start()
}
