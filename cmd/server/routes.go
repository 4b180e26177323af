package main

import (
	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(middleware.RequestID(), logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// Plugin routes, called from WordPress sites with an API key
	plugin := r.Group("/api/v1/plugin", middleware.RateLimit(svc.limiter))
	{
		plugin.POST("/validate", svc.pluginHandler.Validate)
		plugin.POST("/chat-completions", svc.pluginHandler.ChatCompletions)
	}

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/logout", svc.authHandler.Logout)
		}

		// Dashboard routes for key owners
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)

			protected.GET("/user/keys", svc.userHandler.ListKeys)
			protected.POST("/user/keys", svc.userHandler.RotateKey)
			protected.POST("/user/domains", svc.userHandler.AddDomain)
			protected.DELETE("/user/domains/:id", svc.userHandler.RemoveDomain)
		}

		// Admin routes: service token with admin scope or an admin session
		admin := api.Group("/admin")
		admin.Use(middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.POST("/keys/create", svc.adminHandler.CreateKey)
			admin.POST("/keys/model", svc.adminHandler.SetModel)
			admin.POST("/keys/status", svc.adminHandler.SetStatus)
			admin.GET("/keys/:id/ledger", svc.adminHandler.Ledger)

			admin.POST("/credits/grant", svc.adminHandler.GrantCredits)

			admin.POST("/domains/link", svc.adminHandler.LinkDomain)
			admin.POST("/domains/unlink", svc.adminHandler.UnlinkDomain)

			admin.GET("/history", svc.adminHandler.History)
			admin.GET("/users", svc.adminHandler.Users)
			admin.GET("/audit-logs", svc.systemLogHandler.List)
			admin.GET("/metrics", svc.metricsHandler.Metrics)
		}
	}
}
