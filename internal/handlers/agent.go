package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ralph/internal/ledger"
	"ralph/internal/memory"
	"ralph/internal/runlog"
	"ralph/internal/strategy"
	"ralph/pkg/jupiter"
	"ralph/pkg/utils"
)

const defaultTradesLimit = 50

var (
	errInvalidLimit = errors.New("invalid-limit")
	errInvalidDate  = errors.New("invalid-date")
)

func (h *Handler) GetMemory(c *gin.Context) {
	bot := currentBot(c)
	m, err := memory.Get(c.Request.Context(), h.Memory, bot.ID, h.now())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "memory": m})
}

// ListTrades returns the newest ledger rows; limit defaults to 50 and is
// clamped to [1,200].
func (h *Handler) ListTrades(c *gin.Context) {
	limit := defaultTradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			renderError(c, errInvalidLimit)
			return
		}
		limit = utils.ClampInt(n, 1, ledger.MaxListLimit)
	}
	rows, err := h.Trades.List(c.Request.Context(), currentBot(c).ID, limit)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "trades": rows})
}

type tokenBalance struct {
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
	Atomic   string `json:"atomic"`
	Amount   string `json:"amount"`
}

// GetBalances reports the wallet's SOL and quote-asset balances. The quote
// asset comes from the bot's agent strategy, USDC otherwise.
func (h *Handler) GetBalances(c *gin.Context) {
	ctx := c.Request.Context()
	bot := currentBot(c)

	quoteMint, quoteDecimals := jupiter.USDCMint, strategy.DefaultQuoteDecimals
	if cfg, err := h.Actors.Actor(bot.ID).Config(ctx); err == nil && cfg.Strategy != nil {
		if cfg.Strategy.QuoteMint != "" {
			quoteMint = cfg.Strategy.QuoteMint
		}
		if cfg.Strategy.QuoteDecimals != nil {
			quoteDecimals = utils.ClampInt(*cfg.Strategy.QuoteDecimals, 0, strategy.MaxQuoteDecimals)
		}
	}

	lamports, err := h.RPC.GetBalance(ctx, bot.WalletAddress)
	if err != nil {
		renderError(c, err)
		return
	}
	quote, err := h.RPC.GetTokenBalance(ctx, bot.WalletAddress, quoteMint)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"botId":         bot.ID,
		"walletAddress": bot.WalletAddress,
		"sol":           newTokenBalance(jupiter.SolMint, 9, lamports),
		"quote":         newTokenBalance(quoteMint, quoteDecimals, quote),
	})
}

func newTokenBalance(mint string, decimals int, atomic uint64) tokenBalance {
	amt := utils.AtomicFromUint64(atomic)
	return tokenBalance{
		Mint:     mint,
		Decimals: decimals,
		Atomic:   amt.String(),
		Amount:   utils.FormatAtomic(amt, decimals, 4),
	}
}

// GetLogs streams the run-log blob of one UTC day as JSON lines.
func (h *Handler) GetLogs(c *gin.Context) {
	day := h.now().UTC()
	if raw := c.Query("date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			renderError(c, errInvalidDate)
			return
		}
		day = t
	}
	key := runlog.Key(currentBot(c).ID, day)
	raw, err := h.Logs.Read(c.Request.Context(), key)
	if err != nil {
		renderError(c, err)
		return
	}
	c.Header("X-Log-Key", key)
	c.Data(http.StatusOK, "application/x-ndjson", raw)
}

// Events upgrades to a websocket that receives this bot's tick events.
func (h *Handler) Events(c *gin.Context) {
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	h.Hub.Stream(c.Request.Context(), conn, currentBot(c).ID)
}
