package routes

import (
	"github.com/gin-gonic/gin"

	"ralph/internal/handlers"
)

// SetupBotRoutes sets up bot metadata and per-bot loop routes
func SetupBotRoutes(r *gin.Engine, h *handlers.Handler) {
	bots := r.Group("/bots")
	{
		bots.GET("", h.ListBots)
		bots.POST("", h.CreateBot)
	}

	bot := r.Group("/bots/:id", h.RequireBot)
	{
		bot.GET("", h.GetBot)
		bot.GET("/status", h.Status)
		bot.GET("/config", h.GetConfig)
		bot.PATCH("/config", h.PatchConfig)
		bot.POST("/start", h.Start)
		bot.POST("/stop", h.Stop)
		bot.POST("/tick", h.Tick)
		bot.POST("/ensure", h.Ensure)
		bot.GET("/memory", h.GetMemory)
		bot.GET("/trades", h.ListTrades)
		bot.GET("/balances", h.GetBalances)
		bot.GET("/logs", h.GetLogs)
		bot.GET("/events", h.Events)
	}
}
