package controlplane

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/engine"
	"github.com/betbot/snipebot/internal/storage"
	"github.com/betbot/snipebot/pkg/config"
)

var log = logrus.WithField("module", "control")

// Server 控制面 HTTP 服务：状态查询、机会注入、暂停/恢复与手动平仓。
// 只做运维出入口，不承载任何交易决策逻辑。
type Server struct {
	cfg    *config.ControlConfig
	engine *engine.Engine
	store  *storage.SQLiteStore // 可为 nil
	srv    *http.Server
}

// New 创建控制面服务
func New(cfg *config.ControlConfig, eng *engine.Engine, store *storage.SQLiteStore) *Server {
	return &Server{cfg: cfg, engine: eng, store: store}
}

// Start 启动 HTTP 服务（非阻塞）
func (s *Server) Start() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.handleStatus)
	r.GET("/positions", s.handlePositions)
	r.GET("/watchlist", s.handleWatchlist)
	r.GET("/trades", s.handleTrades)
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	r.POST("/opportunity", s.handleOpportunity)
	r.POST("/pause", s.handlePause)
	r.POST("/resume", s.handleResume)
	r.POST("/close/:mint", s.handleClose)

	s.srv = &http.Server{Addr: s.cfg.Listen, Handler: r}
	go func() {
		log.Infof("🌐 控制面已启动: http://%s", s.cfg.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("控制面异常退出: %v", err)
		}
	}()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("控制面停机失败: %v", err)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	l := s.engine.Ledger()
	daily := l.Daily()
	paused, until := l.PauseState()
	c.JSON(http.StatusOK, gin.H{
		"totalCapitalSOL":     l.TotalCapital(),
		"availableCapitalSOL": l.AvailableCapital(),
		"initialCapitalSOL":   l.InitialCapital(),
		"openPositions":       l.OpenCount(),
		"watchlistSize":       s.engine.Watchlist().Len(),
		"dailyPnLSOL":         daily.PnLSOL,
		"dailyPnLPct":         daily.PnLPct,
		"dailyTrades":         daily.Trades,
		"dailyWins":           daily.Wins,
		"dailyLosses":         daily.Losses,
		"paused":              paused,
		"pauseUntil":          until,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Ledger().Snapshot().OpenPositions)
}

func (s *Server) handleWatchlist(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Watchlist().Entries())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	trades, err := s.store.RecentTrades(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// opportunityReq 机会注入请求体（上游发现器通过 HTTP 投递）
type opportunityReq struct {
	Mint     string   `json:"mint" binding:"required"`
	Symbol   string   `json:"symbol"`
	Score    float64  `json:"score"`
	Tier     string   `json:"tier" binding:"required"`
	Reasons  []string `json:"reasons"`
	PriceSOL float64  `json:"priceSol"`
}

func (s *Server) handleOpportunity(c *gin.Context) {
	var req opportunityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.OnOpportunity(&domain.Opportunity{
		Mint:       req.Mint,
		Symbol:     req.Symbol,
		Score:      req.Score,
		Tier:       domain.ConfidenceTier(req.Tier),
		Reasons:    req.Reasons,
		PriceSOL:   req.PriceSOL,
		DetectedAt: time.Now(),
	})
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handlePause(c *gin.Context) {
	minutes := 60
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := c.ShouldBindJSON(&body); err == nil && body.Minutes > 0 {
		minutes = body.Minutes
	}
	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	s.engine.Ledger().SetPause(until)
	log.Infof("⏸️ 手动暂停交易至 %s", until.Format("15:04:05"))
	c.JSON(http.StatusOK, gin.H{"paused": true, "until": until})
}

func (s *Server) handleResume(c *gin.Context) {
	s.engine.Ledger().ClearPause()
	log.Info("▶️ 手动恢复交易")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleClose(c *gin.Context) {
	mint := c.Param("mint")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	if ok := s.engine.Supervisor().CloseManual(ctx, mint); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "仓位不存在或平仓失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": mint})
}
