package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"libportal/internal/catalog"
	"libportal/internal/changefeed"
	"libportal/internal/circulation"
	"libportal/internal/dashboard"
	_ "libportal/internal/docs"
	"libportal/internal/members"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/config"
	"libportal/internal/platform/db"
	"libportal/internal/platform/logging"
	"libportal/internal/platform/metrics"
	"libportal/internal/platform/objstore"
	"libportal/internal/settings"
)

// フロントのビルド出力を埋め込む
// "//go:embed public" ← これはビルドに必要なので消さないこと
//
//go:embed public
var embedded embed.FS

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("[INFO] mode:%s\n", cfg.Mode)

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "libportal"})
	logger.Info("config loaded", "config", cfg.String())

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB: %s", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	hub := changefeed.NewHub(m)
	defer hub.Close()

	// redis があれば複数インスタンス間で変更を共有する
	var pub changefeed.Publisher = hub
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		bus := changefeed.NewRedisBus(rdb, cfg.Redis.Channel, m, logger.Named("changefeed"))
		go bus.RelayWithRetry(ctx, hub)
		pub = bus
		log.Printf("[INFO] change feed via redis %s (%s)", cfg.Redis.Addr, cfg.Redis.Channel)
	}
	notify := changefeed.NewNotifier(pub, logger.Named("changefeed"))

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		// dev のみ (release は Validate で弾く)
		secret = []byte("libportal-dev-secret-do-not-use-in-release")
		logger.Warn("JWT_SECRET not set, using the development secret")
	}
	authSvc := auth.NewService(conn, secret, cfg.Auth.TokenTTL)
	memberSvc := members.NewService(conn, authSvc, notify, logger.Named("members"))

	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		created, err := memberSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.Name)
		if err != nil {
			log.Fatalf("ensure admin: %v", err)
		}
		if created {
			log.Printf("[INFO] admin account created: %s", cfg.Admin.Email)
		}
	}

	var covers catalog.CoverStore
	switch store, err := objstore.New(cfg.Storage); {
	case err == nil:
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("object storage: %v", err)
		}
		covers = store
	case errors.Is(err, objstore.ErrNotConfigured):
		logger.Info("object storage not configured, cover upload disabled")
	default:
		log.Fatal(err)
	}

	catalogSvc := catalog.NewService(conn, covers, notify, logger.Named("catalog"))
	loanSvc := circulation.NewService(conn, notify, m, logger.Named("circulation"))

	job, err := circulation.NewOverdueJob(loanSvc, cfg.Circulation.OverdueSchedule)
	if err != nil {
		log.Fatal(err)
	}
	job.Start()
	defer job.Stop()

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.Named("http").GinMiddleware(), m.GinMiddleware(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.IsDev() {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location", "X-Request-ID"},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// /api/v1
	api := r.Group("/api/v1")
	members.RegisterRoutes(api, memberSvc, secret)
	catalog.RegisterRoutes(api, catalogSvc, secret)
	circulation.RegisterRoutes(api, loanSvc, secret)
	dashboard.RegisterRoutes(api, dashboard.NewService(conn), secret)
	settings.RegisterRoutes(api, settings.NewService(conn, notify, logger.Named("settings")), secret)

	authed := api.Group("", auth.RequireAuth(secret))
	auth.RegisterRoutes(authed, authSvc)
	changefeed.RegisterRoutes(authed, changefeed.NewGateway(hub, logger.Named("changefeed")))

	sub, err := fs.Sub(embedded, "public")
	if err != nil {
		log.Fatal(err)
	}
	r.NoRoute(spaHandler(http.FS(sub)))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.Server.TLS.Cert != "" && cfg.Server.TLS.Key != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		} else {
			log.Printf("[INFO] listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("[INFO] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// WebSocket はハイジャック済みなので Hub を閉じて切断させる
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Print(err)
	}
}

// spaHandler は埋め込んだフロントを返し、未知のパスは index.html にフォールバックする。
func spaHandler(fileFS http.FileSystem) gin.HandlerFunc {
	return func(c *gin.Context) {
		// API は対象外
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "no such endpoint"}})
			return
		}

		reqPath := strings.TrimPrefix(c.Request.URL.Path, "/")
		if reqPath == "" {
			reqPath = "index.html"
		}

		// 実ファイルがあるならそれを返す（Content-Type を推測、キャッシュ付与）
		if f, err := fileFS.Open(reqPath); err == nil {
			defer f.Close()
			if fi, err := f.Stat(); err == nil && !fi.IsDir() {
				if ct := mime.TypeByExtension(path.Ext(reqPath)); ct != "" {
					c.Header("Content-Type", ct)
				}
				// index.html 以外はキャッシュ（SPAの基本運用）
				if !strings.HasSuffix(reqPath, "index.html") {
					c.Header("Cache-Control", "public, max-age=86400, immutable")
				}
				http.ServeContent(c.Writer, c.Request, reqPath, fi.ModTime(), f)
				return
			}
		}

		// なければ index.html にフォールバック
		idx, err := fileFS.Open("index.html")
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		defer idx.Close()
		fi, err := idx.Stat()
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(c.Writer, c.Request, "index.html", fi.ModTime(), idx)
	}
}
