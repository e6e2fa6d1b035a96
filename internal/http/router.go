package http

import (
	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
}

func NewServer(cfg *config.Config, handler *Handler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "proxy-provisioner",
		})
	})

	// Rate limit on the create path: provisioning fans out to remote
	// panels, so a runaway caller is contained before it burns panel calls.
	createLimiter := NewRateLimiter(s.cfg.Server.CreateRateLimit, s.cfg.Server.CreateRateWindow)

	// Internal API - called by the platform CRUD layer
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Config provisioning
		internal.POST("/configs", RateLimitMiddleware(createLimiter), s.handler.CreateConfig)
		internal.DELETE("/configs/:id", s.handler.DeleteConfig)
		internal.GET("/configs/:id", s.handler.GetConfig)
		internal.GET("/configs/:id/logs", s.handler.GetConfigLogs)
		internal.GET("/owners/:owner_id/configs", s.handler.GetOwnerConfigs)

		// Reportable inconsistencies (orphaned remote clients)
		internal.GET("/inconsistencies", s.handler.GetInconsistencies)

		// Gateway server registration and queries
		internal.PUT("/servers", s.handler.UpsertServer)
		internal.GET("/servers/:id/capacity", s.handler.GetCapacity)
		internal.GET("/servers/:id/health", s.handler.GetServerHealth)

		// Manual reconciliation trigger (external scheduler hook)
		internal.POST("/reconcile/:job", s.handler.TriggerReconcile)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
