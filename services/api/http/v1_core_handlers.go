package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/models"
)

var errNotFound = errors.New("not found")

// LocationResponse is a GSP location as served by the API.
type LocationResponse struct {
	GSPID               int            `json:"gsp_id"`
	Label               string         `json:"label"`
	InstalledCapacityMW *float64       `json:"installed_capacity_mw"`
	LatestYield         *YieldResponse `json:"latest_yield,omitempty"`
}

// YieldResponse is a GSP yield as served by the API.
type YieldResponse struct {
	GSPID               int        `json:"gsp_id"`
	DatetimeUTC         time.Time  `json:"datetime_utc"`
	SolarGenerationKW   *float64   `json:"solar_generation_kw"`
	InstalledCapacityMW *float64   `json:"installed_capacity_mwp"`
	CapacityMW          *float64   `json:"capacity_mwp"`
	PVLiveUpdatedUTC    *time.Time `json:"pvlive_updated_utc,omitempty"`
	Regime              string     `json:"regime"`
}

func toLocationResponse(loc *models.Location) LocationResponse {
	out := LocationResponse{
		GSPID:               loc.GSPID,
		Label:               loc.Label,
		InstalledCapacityMW: loc.InstalledCapacityMW,
	}
	if loc.LastYield != nil {
		y := toYieldResponse(*loc.LastYield)
		out.LatestYield = &y
	}
	return out
}

func toYieldResponse(y models.YieldRecord) YieldResponse {
	out := YieldResponse{
		DatetimeUTC:         y.DatetimeUTC.UTC(),
		SolarGenerationKW:   y.SolarGenerationKW,
		InstalledCapacityMW: y.InstalledCapacityMW,
		CapacityMW:          y.CapacityMW,
		Regime:              string(y.Regime),
	}
	if y.Location != nil {
		out.GSPID = y.Location.GSPID
	}
	if !y.PVLiveUpdatedUTC.IsZero() {
		t := y.PVLiveUpdatedUTC.UTC()
		out.PVLiveUpdatedUTC = &t
	}
	return out
}

func parseRegime(c *gin.Context) (models.Regime, bool) {
	regime := models.RegimeInDay
	if v := c.Query("regime"); v != "" {
		r, err := models.ParseRegime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return "", false
		}
		regime = r
	}
	return regime, true
}

func parseGSPID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("gsp_id"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gsp_id"})
		return 0, false
	}
	return id, true
}

// handleV1ListGSPs returns all GSP locations
// GET /api/v1/core/gsps
func (s *Server) handleV1ListGSPs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var out []LocationResponse
	err := s.store.WithSession(ctx, func(sess db.Session) error {
		locations, err := sess.ListLocations(ctx)
		if err != nil {
			return err
		}
		out = make([]LocationResponse, 0, len(locations))
		for _, loc := range locations {
			out = append(out, toLocationResponse(loc))
		}
		return db.ErrRollback
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{
			"count": len(out),
		},
	})
}

// handleV1GetGSP returns one GSP with its latest yield
// GET /api/v1/core/gsps/:gsp_id?regime=in-day
func (s *Server) handleV1GetGSP(c *gin.Context) {
	gspID, ok := parseGSPID(c)
	if !ok {
		return
	}
	regime, ok := parseRegime(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var out LocationResponse
	err := s.store.WithSession(ctx, func(sess db.Session) error {
		locations, err := sess.LoadLocations(ctx, []int{gspID})
		if err != nil {
			return err
		}
		if len(locations) == 0 {
			return errNotFound
		}
		loc := locations[0]
		since := s.now().Add(-time.Duration(s.cfg.DefaultDays) * 24 * time.Hour)
		if err := sess.AttachLatestYields(ctx, []*models.Location{loc}, regime, since); err != nil {
			return err
		}
		out = toLocationResponse(loc)
		return db.ErrRollback
	})
	if errors.Is(err, errNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gsp not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
	})
}

// handleV1GSPYields returns the yields of one GSP in a time range
// GET /api/v1/core/gsps/:gsp_id/yields?start=...&end=...&regime=in-day
func (s *Server) handleV1GSPYields(c *gin.Context) {
	gspID, ok := parseGSPID(c)
	if !ok {
		return
	}
	regime, ok := parseRegime(c)
	if !ok {
		return
	}

	now := s.now()
	w := models.FetchWindow{
		Start:      now.Add(-time.Duration(s.cfg.DefaultDays) * 24 * time.Hour),
		End:        now,
		IncludeEnd: true,
	}
	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		w.Start = t.UTC()
	}
	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		w.End = t.UTC()
	}
	if w.End.Before(w.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end before start"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	var out []YieldResponse
	err := s.store.WithSession(ctx, func(sess db.Session) error {
		yields, err := sess.LoadYields(ctx, []int{gspID}, w, regime)
		if err != nil {
			return err
		}
		out = make([]YieldResponse, 0, len(yields))
		for _, y := range yields {
			out = append(out, toYieldResponse(y))
		}
		return db.ErrRollback
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{
			"gsp_id": gspID,
			"regime": regime,
			"start":  w.Start.Format(time.RFC3339),
			"end":    w.End.Format(time.RFC3339),
			"count":  len(out),
		},
	})
}
