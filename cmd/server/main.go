package main

import (
	"log"

	"slidesync-backend/internal/cache"
	"slidesync-backend/internal/config"
	"slidesync-backend/internal/database"
	"slidesync-backend/internal/server"
	"slidesync-backend/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully")

	// Redis 연결 (선택적, 실패해도 캐시 없이 기동)
	var redisClient *cache.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.History.ChatCap)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (chat cache disabled)", err)
			redisClient = nil
		} else {
			log.Printf("✅ Redis connected (%s)", cfg.Redis.Addr)
			defer redisClient.Close()
		}
	} else {
		log.Println("ℹ️ Redis not configured (chat cache disabled)")
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, store.NewGormStore(db), redisClient)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
