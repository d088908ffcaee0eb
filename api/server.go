// Package api exposes the thin HTTP status surface: health, engine state,
// portfolio views and Prometheus metrics. It belongs to the orchestration
// layer; the engines know nothing about it.
package api

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmonteiro-dev/tapeflow/internal/position"
	"github.com/rmonteiro-dev/tapeflow/internal/tape"
)

// Server serves read-only views over both engines.
type Server struct {
	engine  *gin.Engine
	tape    *tape.Engine
	manager *position.Manager
}

// NewServer builds the router.
func NewServer(logger *zap.Logger, tapeEngine *tape.Engine, manager *position.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{engine: router, tape: tapeEngine, manager: manager}

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/state", s.state)
		v1.GET("/levels", s.levels)
		v1.GET("/profile", s.profile)
		v1.GET("/portfolio", s.portfolio)
		v1.GET("/positions", s.positions)
	}

	return s
}

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.tape.State())
}

func (s *Server) levels(c *gin.Context) {
	c.JSON(http.StatusOK, s.tape.TopLevels(10))
}

func (s *Server) profile(c *gin.Context) {
	c.JSON(http.StatusOK, s.tape.VolumeProfile(5*time.Minute))
}

func (s *Server) portfolio(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"value":       s.manager.PortfolioValue(),
		"metrics":     s.manager.PortfolioMetrics(),
		"riskMetrics": s.manager.RiskMetrics(),
	})
}

func (s *Server) positions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"open":   s.manager.OpenPositions(),
		"closed": s.manager.ClosedPositions(),
	})
}
