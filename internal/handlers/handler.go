package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ralph/internal/events"
	"ralph/internal/memory"
	"ralph/internal/models"
	"ralph/internal/runlog"
	"ralph/internal/scheduler"
	"ralph/internal/store"
	"ralph/pkg/signer"
)

const botKey = "bot"

type BotRepo interface {
	Create(ctx context.Context, bot *models.Bot) error
	Get(ctx context.Context, id string) (*models.Bot, error)
	List(ctx context.Context) ([]models.Bot, error)
}

type TradeLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]models.TradeIndex, error)
}

type Balances interface {
	GetBalance(ctx context.Context, owner string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// Handler serves the bot API.
type Handler struct {
	Bots       BotRepo
	Actors     *scheduler.Registry
	Memory     memory.Store
	Trades     TradeLister
	RPC        Balances
	Signer     signer.Signer
	SignerType string
	Logs       runlog.BlobStore
	Hub        *events.Hub
	// AllowedOrigins is checked for websocket upgrades. Requests without an
	// Origin header are always accepted.
	AllowedOrigins []string
	Now            func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range h.AllowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

// errorStatus maps reason codes to HTTP statuses.
func errorStatus(err error) int {
	if errors.Is(err, store.ErrBotNotFound) {
		return http.StatusNotFound
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "invalid-") || strings.HasPrefix(msg, "missing-") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func renderError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"ok": false, "error": err.Error()})
}

// RequireBot loads the bot named by :id or aborts with 404.
func (h *Handler) RequireBot(c *gin.Context) {
	bot, err := h.Bots.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		c.Abort()
		return
	}
	c.Set(botKey, bot)
	c.Next()
}

func currentBot(c *gin.Context) *models.Bot {
	return c.MustGet(botKey).(*models.Bot)
}

func (h *Handler) actor(c *gin.Context) *scheduler.Actor {
	return h.Actors.Actor(currentBot(c).ID)
}
