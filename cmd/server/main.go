package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"commentry/internal/config"
	"commentry/internal/db"
	"commentry/internal/router"
	"commentry/internal/services"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}
	cfg := config.Load()

	// Initialize Database
	database := db.Init(cfg.DatabaseURL)
	store := db.NewCommentStore(database)
	directory := db.NewDirectory(database, cfg.SiteURL)

	// 异步邮件队列
	mailer := services.NewMailService(cfg)
	dispatcher := services.NewDispatcher(mailer, cfg.MailQueueSize, cfg.MailMaxAttempts, cfg.MailRetryDelay)
	dispatcher.Start(2)

	spam := services.NewKeywordSpamFilter(cfg.SpamWords, cfg.SpamMaxLinks)
	commentService := services.NewCommentService(store, directory, dispatcher, spam, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go purgeSpamLoop(ctx, commentService, cfg.SpamPurgeInterval)

	// Initialize Gin
	r := gin.Default()

	// Setup Sessions
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("commentry_session", sessionStore))

	r.HTMLRender = loadTemplates("./web/templates")

	router.RegisterRoutes(r, cfg, commentService, directory)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("Comments server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	// 等待队列中的邮件发送完毕
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("[mail] queue not drained: %v", err)
	}
}

func purgeSpamLoop(ctx context.Context, svc *services.CommentService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.PurgeSpam(ctx); err != nil {
			log.Printf("[comments] spam purge failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loadTemplates(templatesDir string) multitemplate.Renderer {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(templatesDir + "/layouts/*.html")
	if err != nil {
		panic(err)
	}

	assemble := func(view string) []string {
		files := make([]string, 0, len(layouts)+1)
		files = append(files, layouts...)
		files = append(files, view)
		return files
	}

	r.AddFromFiles("page.html", assemble(templatesDir+"/views/page.html")...)
	r.AddFromFiles("error.html", assemble(templatesDir+"/views/error.html")...)
	return r
}
