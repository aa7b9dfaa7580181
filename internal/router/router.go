package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"commentry/internal/config"
	"commentry/internal/handlers"
	"commentry/internal/middleware"
	"commentry/internal/services"
)

// RegisterRoutes wires the comment endpoints. Sessions and templates must
// already be set up on r.
func RegisterRoutes(r *gin.Engine, cfg *config.Config, svc *services.CommentService, pages handlers.PageFinder) {
	commentHandler := handlers.NewCommentHandler(svc, pages)
	adminHandler := handlers.NewAdminHandler(svc, cfg.AdminPasswordHash)

	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(middleware.LoadAdmin(cfg.AdminPasswordHash))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 操作链接落地页 (审核 / 订阅确认 / 退订 / 投票)
	r.GET("/p/:page_id", commentHandler.Page)

	r.POST("/admin/login", adminHandler.Login)
	r.POST("/admin/logout", adminHandler.Logout)

	// JSON API
	api := r.Group("/api")
	{
		api.GET("/pages/:page_id/:field/comments", commentHandler.List)                // 评论列表
		api.POST("/pages/:page_id/:field/comments", commentHandler.Submit)             // 发表评论
		api.POST("/pages/:page_id/:field/comments/:id/vote/:dir", commentHandler.Vote) // 投票
	}

	admin := api.Group("")
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/pages/:page_id/:field/comments/:id/status", adminHandler.SetStatus) // 修改状态
		admin.POST("/pages/:page_id/:field/comments/:id/trash", adminHandler.Trash)      // 移入回收站
		admin.DELETE("/pages/:page_id/:field/comments/:id", adminHandler.Delete)         // 物理删除
		admin.POST("/spam/purge", adminHandler.PurgeSpam)                                // 清理过期垃圾评论
	}
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Accept", "Content-Type", "X-Requested-With", middleware.AdminHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	// 指定来源时允许携带管理员 session cookie
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}
