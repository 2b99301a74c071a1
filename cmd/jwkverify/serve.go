package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	authgin "github.com/PaulFidika/jwkclient/adapters/gin"
	authhttp "github.com/PaulFidika/jwkclient/adapters/http"
	"github.com/PaulFidika/jwkclient/jwkclient"
	"github.com/PaulFidika/jwkclient/metrics"
	memorylimiter "github.com/PaulFidika/jwkclient/ratelimit/memory"
	redislimiter "github.com/PaulFidika/jwkclient/ratelimit/redis"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an HTTP service that validates bearer tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&listenFlag, "listen", "", "listen address (JWK_LISTEN_ADDR)")
	f.StringVar(&redisFlag, "redis-addr", "", "coalesce key-set fetches across processes through Redis (JWK_REDIS_ADDR)")
	f.StringVar(&backgroundFlag, "background-refresh", "", "cron spec for background refresh, e.g. \"@every 30m\" (JWK_BACKGROUND_REFRESH)")
	rootCmd.AddCommand(serveCmd)
}

var listenFlag, redisFlag, backgroundFlag string

func serve(ctx context.Context) error {
	if listenFlag != "" {
		cfg.ListenAddr = listenFlag
	}
	if redisFlag != "" {
		cfg.RedisAddr = redisFlag
	}
	if backgroundFlag != "" {
		cfg.BackgroundRefresh = backgroundFlag
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New("")
	if err := observer.Register(reg); err != nil {
		return err
	}

	fetcher, closeFetcher := sharedFetcher(ctx)
	defer closeFetcher()

	client, err := newClient(ctx, jwkclient.WithObserver(observer), jwkclient.WithFetcher(fetcher))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial key set refresh failed, will retry on first request")
	}
	if cfg.BackgroundRefresh != "" {
		if err := client.StartBackgroundRefresh(cfg.BackgroundRefresh); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(client, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// sharedFetcher coalesces key-set fetches through Redis when configured, else
// within this process.
func sharedFetcher(ctx context.Context) (jwkclient.Fetcher, func()) {
	if cfg.RedisAddr == "" {
		return memorylimiter.New(cfg.Fetcher()), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, fetching key sets without coordination until it recovers")
	}
	f := redislimiter.New(rdb, cfg.Fetcher(), "", redislimiter.WithLogger(log.WithField("component", "redislimiter")))
	return f, func() { _ = rdb.Close() }
}

type validateRequest struct {
	Token string `json:"token" binding:"required"`
}

func newRouter(client *jwkclient.Client, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		proactive, _ := client.Cache().LastRefresh()
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"keys":         len(client.Cache().KeyIDs()),
			"last_refresh": proactive,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/.well-known/jwks.json", gin.WrapH(authhttp.KeySetHandler(client, cfg.Algorithm)))

	r.POST("/v1/validate", func(c *gin.Context) {
		var req validateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, authhttp.ErrorResponse{Error: "invalid_request", Description: err.Error()})
			return
		}
		claims, err := client.Validate(c.Request.Context(), req.Token)
		if err != nil {
			c.JSON(authhttp.Status(err), gin.H{"active": false, "error": authhttp.Response(err).Description})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true, "claims": claims})
	})

	v1 := r.Group("/v1", authgin.RequireToken(client))
	v1.GET("/introspect", func(c *gin.Context) {
		claims, _ := authgin.ClaimsFromGin(c)
		c.JSON(http.StatusOK, gin.H{"sub": authgin.Subject(c), "claims": claims})
	})
	return r
}

func requestLogger(l logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	}
}
