package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ralph/internal/models"
)

var (
	errMissingName   = errors.New("missing-name")
	errSignerMissing = errors.New("missing-signer")
)

// CreateBotRequest represents the request body for creating a bot. When
// signer_ref is empty a new wallet is provisioned through the signer.
type CreateBotRequest struct {
	Name          string `json:"name" binding:"required"`
	SignerRef     string `json:"signer_ref"`
	WalletAddress string `json:"wallet_address"`
	Enabled       *bool  `json:"enabled"`
}

// CreateBot creates bot metadata. The loop itself stays disabled until the
// bot is started or its config enabled.
func (h *Handler) CreateBot(c *gin.Context) {
	var request CreateBotRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			renderError(c, errMissingName)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid-body"})
		return
	}
	// required lets a blank name through
	name := strings.TrimSpace(request.Name)
	if name == "" {
		renderError(c, errMissingName)
		return
	}
	if h.Signer == nil {
		renderError(c, errSignerMissing)
		return
	}

	ctx := c.Request.Context()
	ref := strings.TrimSpace(request.SignerRef)
	wallet := strings.TrimSpace(request.WalletAddress)
	var err error
	switch {
	case ref == "":
		ref, wallet, err = h.Signer.CreateWallet(ctx)
	case wallet == "":
		wallet, err = h.Signer.WalletAddress(ctx, ref)
	}
	if err != nil {
		log.WithError(err).Error("resolve bot wallet")
		renderError(c, err)
		return
	}

	enabled := true
	if request.Enabled != nil {
		enabled = *request.Enabled
	}
	bot := models.Bot{
		ID:            uuid.NewString(),
		Name:          name,
		Enabled:       enabled,
		SignerType:    h.SignerType,
		SignerRef:     ref,
		WalletAddress: wallet,
	}
	if err := h.Bots.Create(ctx, &bot); err != nil {
		renderError(c, err)
		return
	}
	log.WithFields(log.Fields{"bot_id": bot.ID, "wallet": bot.WalletAddress}).Info("bot created")
	c.JSON(http.StatusCreated, gin.H{"ok": true, "bot": bot})
}

func (h *Handler) ListBots(c *gin.Context) {
	bots, err := h.Bots.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	if bots == nil {
		bots = []models.Bot{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bots": bots})
}

func (h *Handler) GetBot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "bot": currentBot(c)})
}
