package api

import (
	"errors"
	"net/http"

	"autoexit/monitor"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
)

type targetRequest struct {
	Points decimal.Decimal `json:"points"`
}

type intervalRequest struct {
	Seconds *float64 `json:"seconds"`
}

type toggleRequest struct {
	Enabled *bool  `json:"enabled"`
	Code    string `json:"code"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        s.ctl.Status(),
		"pending_exits": s.ctl.PendingExits(),
	})
}

func (s *Server) handlePause(c *gin.Context) {
	s.ctl.Pause()
	c.JSON(http.StatusOK, gin.H{"status": s.ctl.Status()})
}

func (s *Server) handleResume(c *gin.Context) {
	s.ctl.Resume()
	c.JSON(http.StatusOK, gin.H{"status": s.ctl.Status()})
}

func (s *Server) handleTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ctl.SetTarget(req.Points); err != nil {
		s.controlError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.ctl.Status()})
}

func (s *Server) handleInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Seconds == nil {
		badRequest(c, &monitor.ValidationError{Field: "seconds", Reason: "required"})
		return
	}
	applied, err := s.ctl.SetPollInterval(*req.Seconds)
	if err != nil {
		s.controlError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied_seconds": applied, "status": s.ctl.Status()})
}

func (s *Server) handlePaper(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Enabled == nil {
		badRequest(c, &monitor.ValidationError{Field: "enabled", Reason: "required"})
		return
	}
	if !*req.Enabled && s.totpSecret != "" && !totp.Validate(req.Code, s.totpSecret) {
		s.log.Warnf("🔐 [API] Rejected live-mode switch from %s: bad one-time code", c.ClientIP())
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid one-time code"})
		return
	}
	s.ctl.SetPaperMode(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": s.ctl.Status()})
}

func (s *Server) handleAutoExit(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Enabled == nil {
		badRequest(c, &monitor.ValidationError{Field: "enabled", Reason: "required"})
		return
	}
	s.ctl.SetAutoExit(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": s.ctl.Status()})
}

func (s *Server) handleRetry(c *gin.Context) {
	keys := s.ctl.RetryBlocked()
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"unblocked": keys})
}

func (s *Server) controlError(c *gin.Context, err error) {
	var verr *monitor.ValidationError
	if errors.As(err, &verr) {
		badRequest(c, err)
		return
	}
	s.log.WithError(err).Error("❌ [API] Control request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
