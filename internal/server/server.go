package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Ewocs/typing-comp/internal/event"
	"github.com/Ewocs/typing-comp/internal/gateway"
	"github.com/Ewocs/typing-comp/internal/leaderboard"
	"github.com/Ewocs/typing-comp/internal/notify"
	"github.com/Ewocs/typing-comp/internal/session"
	"github.com/Ewocs/typing-comp/internal/store"
	"github.com/Ewocs/typing-comp/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Results struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Session struct {
		GracePeriodSeconds int
		IdleTTLSeconds     int
	}

	Leaderboard struct {
		IntervalMillis int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			pubsub redis.UniversalClient
		}

		postgres struct {
			results *pgxpool.Pool
		}
	}

	service struct {
		registry    *session.Registry
		leaderboard *leaderboard.Broadcaster
		results     *store.Service
		notify      *notify.Service
		hub         *gateway.Hub
	}

	http *http.Server

	hubCancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Pubsub.Addrs,
		Password: s.c.Redis.Pubsub.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis.pubsub = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := s.c.Postgres.Results
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres.results = db
	return nil
}

func (s *Server) initService() {
	clock := clockwork.NewRealClock()

	s.service.registry = session.NewRegistry(session.RegistryConfig{
		EventBus:    s.eb,
		Clock:       clock,
		GracePeriod: time.Duration(s.c.Session.GracePeriodSeconds) * time.Second,
		IdleTTL:     time.Duration(s.c.Session.IdleTTLSeconds) * time.Second,
	})

	s.service.leaderboard = leaderboard.NewBroadcaster(leaderboard.Config{
		EventBus:  s.eb,
		Snapshots: s.service.registry,
		Clock:     clock,
		Interval:  time.Duration(s.c.Leaderboard.IntervalMillis) * time.Millisecond,
	})

	s.service.results = store.NewService(store.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.results,
	})

	s.service.notify = notify.NewService(notify.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.pubsub,
		Prefix:   s.c.Redis.Pubsub.Prefix,
	})

	s.service.hub = gateway.NewHub(s.eb)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.service.registry.Len()})
	})

	h := gateway.NewHandler(gateway.HandlerConfig{
		Registry: s.service.registry,
		Hub:      s.service.hub,
	})
	e.GET("/ws", h.HandleWS)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	hubCtx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		s.service.hub.Start(hubCtx)
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.hubCancel != nil {
		s.hubCancel()
	}

	s.eb.Stop()
	s.infra.postgres.results.Close()
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
