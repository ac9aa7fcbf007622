package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"slidesync-backend/internal/auth"
	"slidesync-backend/internal/cache"
	"slidesync-backend/internal/config"
	"slidesync-backend/internal/database"
	"slidesync-backend/internal/handler"
	"slidesync-backend/internal/history"
	"slidesync-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	store          store.Store
	hub            *handler.RoomHub
	history        *history.Store
	cache          *cache.RedisClient
	authHandler    *handler.AuthHandler
	sessionHandler *handler.SessionHandler
	slideHandler   *handler.SlideHandler
	chatHandler    *handler.ChatHandler
	collabWS       *handler.CollabWSHandler
	jwtManager     *auth.JWTManager
	sweeperCancel  context.CancelFunc
}

// New 새 서버 인스턴스 생성. redisClient는 nil일 수 있다 (캐시 없이 동작).
func New(cfg *config.Config, st store.Store, redisClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "SlideSync Collaboration Gateway",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             2 * 1024 * 1024,
		DisableStartupMessage: false,
	})

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)

	hub := handler.NewRoomHub()
	hist := history.NewStore(cfg.History.ChatCap, cfg.History.StrokeCap)

	return &Server{
		app:            app,
		cfg:            cfg,
		store:          st,
		hub:            hub,
		history:        hist,
		cache:          redisClient,
		authHandler:    handler.NewAuthHandler(st, jwtManager, googleAuth, cfg.Auth.SecureCookie),
		sessionHandler: handler.NewSessionHandler(st, hub, hist, redisClient),
		slideHandler:   handler.NewSlideHandler(st, hub, hist),
		chatHandler:    handler.NewChatHandler(st, hist, redisClient, cfg.History.ChatCap),
		collabWS:       handler.NewCollabWSHandler(st, hub, hist, redisClient, jwtManager, cfg.History.ChatCap),
		jwtManager:     jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok"}
		if err := database.Ping(); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
		if s.cache != nil {
			if err := s.cache.Health(c.Context()); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
			}
		}
		return c.JSON(status)
	})

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	// Session 라우트 그룹 (인증 필요)
	sessionGroup := s.app.Group("/api/sessions", auth.AuthMiddleware(s.jwtManager))
	sessionGroup.Post("/", s.sessionHandler.Create)
	sessionGroup.Get("/", s.sessionHandler.List)
	sessionGroup.Get("/:id", s.sessionHandler.Get)
	sessionGroup.Post("/:id/start", s.sessionHandler.Start)
	sessionGroup.Post("/:id/end", s.sessionHandler.End)
	sessionGroup.Put("/:id/chat", s.sessionHandler.SetChat)
	sessionGroup.Get("/:id/chat", s.chatHandler.GetHistory)

	// Slide 라우트 (세션 하위)
	sessionGroup.Post("/:id/slides", s.slideHandler.Add)
	sessionGroup.Delete("/:id/slides/:slideId", s.slideHandler.Delete)
	sessionGroup.Put("/:id/slides/reorder", s.slideHandler.Reorder)
	sessionGroup.Put("/:id/current-slide", s.slideHandler.SetCurrent)
	sessionGroup.Get("/:id/slides/:slideId/strokes", s.slideHandler.GetStrokes)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 협업 엔드포인트. 토큰 검증은 소켓 안에서 수행해
	// 실패 시 별도 close code로 연결을 닫는다.
	s.app.Get("/ws/collab", websocket.New(s.collabWS.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// 빈 방 정리 스위퍼
	ctx, cancel := context.WithCancel(context.Background())
	s.sweeperCancel = cancel
	go s.hub.RunSweeper(ctx, 1*time.Minute)

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		cancel()
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 SlideSync Collaboration Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/collab", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	if s.sweeperCancel != nil {
		s.sweeperCancel()
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
