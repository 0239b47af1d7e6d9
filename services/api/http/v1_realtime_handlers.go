package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridwatch/pvlive-consumer/internal/db"
)

// handleV1RealtimeNow returns the latest yield of every GSP
// GET /api/v1/realtime/now?regime=in-day
func (s *Server) handleV1RealtimeNow(c *gin.Context) {
	regime, ok := parseRegime(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	now := s.now()
	var (
		out    []YieldResponse
		latest time.Time
	)
	err := s.store.WithSession(ctx, func(sess db.Session) error {
		locations, err := sess.ListLocations(ctx)
		if err != nil {
			return err
		}
		since := now.Add(-time.Duration(s.cfg.DefaultDays) * 24 * time.Hour)
		if err := sess.AttachLatestYields(ctx, locations, regime, since); err != nil {
			return err
		}
		for _, loc := range locations {
			if loc.LastYield == nil {
				continue
			}
			y := toYieldResponse(*loc.LastYield)
			y.GSPID = loc.GSPID
			if y.DatetimeUTC.After(latest) {
				latest = y.DatetimeUTC
			}
			out = append(out, y)
		}
		return db.ErrRollback
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no gsp yields available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{
			"regime":       regime,
			"timestamp":    latest.Format(time.RFC3339),
			"gsps_count":   len(out),
			"generated_at": now.Format(time.RFC3339),
		},
	})
}
