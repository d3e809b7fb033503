package api

import (
	"errors"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"genx-core/internal/engine"
	"genx-core/internal/market"
	"genx-core/internal/risk"
	"genx-core/internal/validator"
)

// respondError writes the shared error envelope.
func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

// listQuery bounds list endpoints.
type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        s.Meta.Version,
		"host_id":        s.Meta.HostID,
		"symbols":        s.Meta.Symbols,
		"simulation":     s.Meta.Simulation,
		"started_at":     s.startedAt.Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"bridge": gin.H{
			"addr":   s.Meta.BridgeAddr,
			"agents": s.Bridge.AgentCount(),
			"queued": s.Bridge.QueueLen(),
		},
		"balance":        s.Sizer.Balance(),
		"open_positions": s.Sizer.OpenPositionCount(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getAgents returns every tracked bridge connection.
func (s *Server) getAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.Bridge.Agents())
}

type commandRequest struct {
	Target     string         `json:"target" binding:"required"`
	Command    string         `json:"command" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

// sendCommand pushes a COMMAND frame to one agent or, with target "all",
// to every connection.
func (s *Server) sendCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	sent, err := s.Bridge.SendCommand(req.Target, req.Command, req.Parameters)
	if err != nil {
		respondError(c, http.StatusNotFound, "AGENT_NOT_FOUND", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": sent})
}

// getSignals lists recently persisted signals, newest first.
func (s *Server) getSignals(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	if s.DB == nil {
		c.JSON(http.StatusOK, []gin.H{})
		return
	}

	rows, err := s.DB.RecentSignals(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"signal_id":    r.ID,
			"symbol":       r.Symbol,
			"action":       r.Action,
			"volume":       r.Volume,
			"stop_loss":    r.StopLoss,
			"take_profit":  r.TakeProfit,
			"magic_number": r.MagicNumber,
			"comment":      r.Comment,
			"confidence":   r.Confidence,
			"status":       r.Status,
			"created_at":   r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

type submitSignalRequest struct {
	Symbol     string                     `json:"symbol" binding:"required"`
	Score      float64                    `json:"score"`
	Confidence float64                    `json:"confidence"`
	EntryPrice float64                    `json:"entry_price"`
	StopLoss   float64                    `json:"stop_loss"`
	Market     map[string][]market.Candle `json:"market"`
}

// submitSignal runs a trade idea through the full pipeline and reports the
// decision. Rejections are not errors: the pipeline did its job.
func (s *Server) submitSignal(c *gin.Context) {
	var req submitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if math.IsNaN(req.Score) || req.Score < -1 || req.Score > 1 {
		respondError(c, http.StatusBadRequest, "INVALID_SCORE", "score must be in [-1, 1]")
		return
	}
	if math.IsNaN(req.Confidence) || req.Confidence < 0 || req.Confidence > 1 {
		respondError(c, http.StatusBadRequest, "INVALID_CONFIDENCE", "confidence must be in [0, 1]")
		return
	}

	decision, err := s.Pipeline.ProcessSignal(c.Request.Context(), engine.Request{
		Symbol:     req.Symbol,
		Base:       validator.BaseSignal{Score: req.Score, Confidence: req.Confidence},
		Market:     req.Market,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "PIPELINE_ERROR", err.Error())
		return
	}

	status := http.StatusAccepted
	if decision.Outcome == engine.OutcomeRejectedValidation || decision.Outcome == engine.OutcomeRejectedRisk {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, decision)
}

// getQueuedSignals copies the bridge's outbound queue, oldest first.
func (s *Server) getQueuedSignals(c *gin.Context) {
	c.JSON(http.StatusOK, s.Bridge.QueuedSignals())
}

// getTradeResults lists recent execution feedback, newest first.
func (s *Server) getTradeResults(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	if s.DB == nil {
		c.JSON(http.StatusOK, []gin.H{})
		return
	}

	rows, err := s.DB.RecentTradeResults(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"signal_id":       r.SignalID,
			"ticket":          r.Ticket,
			"success":         r.Success,
			"error_code":      r.ErrorCode,
			"error_message":   r.ErrorMessage,
			"execution_price": r.ExecutionPrice,
			"slippage":        r.Slippage,
			"executed_at":     r.ExecutedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// openPositionView decorates an open position with its mark price when the
// quote cache has one.
type openPositionView struct {
	risk.PositionInfo
	MarkPrice     *float64 `json:"mark_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
}

// getPortfolio reports the risk ledger plus per-position unrealized P&L
// against the latest cached quotes.
func (s *Server) getPortfolio(c *gin.Context) {
	open := s.Sizer.OpenPositions()

	symbols := make([]string, 0, len(open))
	for sym := range open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var totalUnrealized float64
	positions := make([]openPositionView, 0, len(open))
	for _, sym := range symbols {
		view := openPositionView{PositionInfo: open[sym]}
		if s.Quotes != nil {
			if px, ok := s.Quotes.Get(sym); ok {
				pnl := (px - view.EntryPrice) * view.PositionSize
				if view.Direction == risk.Short {
					pnl = -pnl
				}
				view.MarkPrice = &px
				view.UnrealizedPnL = &pnl
				totalUnrealized += pnl
			}
		}
		positions = append(positions, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         s.Sizer.Status(),
		"positions":      positions,
		"unrealized_pnl": totalUnrealized,
	})
}

// closePosition transmits a close instruction for an open position. The
// position leaves the book only when the fill comes back from the agent.
func (s *Server) closePosition(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "MISSING_SYMBOL", "symbol is required")
		return
	}

	decision, err := s.Pipeline.CloseSymbol(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, engine.ErrNoPosition) {
			respondError(c, http.StatusNotFound, "NO_OPEN_POSITION", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "PIPELINE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, decision)
}

// getClosedPositions lists retired positions, preferring the durable store
// over the sizer's in-memory tail.
func (s *Server) getClosedPositions(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	if s.DB == nil {
		c.JSON(http.StatusOK, s.Sizer.ClosedPositions(q.Limit))
		return
	}

	rows, err := s.DB.RecentClosedPositions(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"symbol":        r.Symbol,
			"direction":     r.Direction,
			"entry_price":   r.EntryPrice,
			"exit_price":    r.ExitPrice,
			"position_size": r.PositionSize,
			"risk_amount":   r.RiskAmount,
			"realized_pnl":  r.RealizedPnL,
			"opened_at":     r.OpenedAt,
			"closed_at":     r.ClosedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// getAnalytics returns the Sortino summary over the recorded return window.
func (s *Server) getAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, s.History.Snapshot(s.sortinoTarget, s.periodsPerYear))
}

func (s *Server) getValidatorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Validator.Stats())
}

func (s *Server) getValidatorReports(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	c.JSON(http.StatusOK, s.Validator.Recent(q.Limit))
}

func (s *Server) getQuotes(c *gin.Context) {
	if s.Quotes == nil {
		c.JSON(http.StatusOK, []gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Quotes.Snapshot())
}

func (s *Server) getReconciliation(c *gin.Context) {
	if s.Recon == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILER_DISABLED", "reconciliation service not running")
		return
	}
	c.JSON(http.StatusOK, s.Recon.LastReport())
}
