package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ralph/internal/loopconfig"
)

func (h *Handler) Status(c *gin.Context) {
	st, err := h.actor(c).Status(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.actor(c).Config(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "config": cfg})
}

// PatchConfig validates the whole body before anything is merged.
func (h *Handler) PatchConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		renderError(c, loopconfig.ErrInvalidBody)
		return
	}
	patch, err := loopconfig.ParsePatch(body)
	if err != nil {
		renderError(c, err)
		return
	}
	cfg, err := h.actor(c).PatchConfig(c.Request.Context(), patch)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "config": cfg})
}

func (h *Handler) Start(c *gin.Context) {
	cfg, err := h.actor(c).Start(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "config": cfg})
}

func (h *Handler) Stop(c *gin.Context) {
	cfg, err := h.actor(c).Stop(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "config": cfg})
}

// Tick enqueues a manual run; admitted is false when a run is in flight.
func (h *Handler) Tick(c *gin.Context) {
	admitted := h.actor(c).Tick()
	c.JSON(http.StatusOK, gin.H{"ok": true, "submitted": true, "admitted": admitted})
}

func (h *Handler) Ensure(c *gin.Context) {
	if err := h.actor(c).Ensure(c.Request.Context()); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
