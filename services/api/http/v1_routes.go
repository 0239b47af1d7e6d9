package http

import "github.com/gin-gonic/gin"

// registerV1Routes sets up the v1 API
// Groups: /api/v1/core, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	// Core endpoints - GSP locations and their yields
	core := v1.Group("/core")
	{
		core.GET("/gsps", s.handleV1ListGSPs)
		core.GET("/gsps/:gsp_id", s.handleV1GetGSP)
		core.GET("/gsps/:gsp_id/yields", s.handleV1GSPYields)
	}

	// Realtime endpoints - latest yield per GSP
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}
