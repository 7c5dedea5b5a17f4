// main.go
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"engage-router/adapter"
	"engage-router/auth"
	"engage-router/cache"
	"engage-router/classifier"
	"engage-router/responder"
	"engage-router/store"
)

var (
	db     *sql.DB
	config Config

	dataStore  store.Store
	convCache  *cache.Cache
	registry   *adapter.Registry
	aiClient   *classifier.Classifier
	dispatcher *responder.Dispatcher
	poller     *responder.Poller
	scanner    *responder.Scanner
)

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	initLogLevel()
}

func loadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Printf("💡 Using platform environment variables (no .env file)")
	}

	config = Config{
		DatabaseURL:       getEnvOrDie("DATABASE_URL"),
		AppSecret:         getEnvOrDie("APP_SECRET"),
		VerifyToken:       getEnvOrDie("VERIFY_TOKEN"),
		AIGatewayKey:      getEnvOrDie("AI_GATEWAY_KEY"),
		JWTSecret:         getEnvOrDie("JWT_SECRET"),
		AdminPassword:     getEnvOrDie("ADMIN_PASSWORD"),
		Port:              getEnvOrDefault("PORT", "8080"),
		AIGatewayURL:      os.Getenv("AI_GATEWAY_URL"),
		AIModel:           os.Getenv("AI_MODEL"),
		FacebookAppID:     os.Getenv("FACEBOOK_APP_ID"),
		FacebookAppSecret: os.Getenv("FACEBOOK_APP_SECRET"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisUsername:     os.Getenv("REDIS_USERNAME"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		PollInterval:      getEnvDuration("POLL_INTERVAL", responder.DefaultInterval),
	}
}

func getEnvOrDie(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("❌ %s environment variable is not set", key)
	}
	return value
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Invalid %s value %q, using %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func setupDatabase() {
	log.Printf("📊 Database URL configured (length: %d chars)", len(config.DatabaseURL))

	var err error
	for i := 0; i < 3; i++ {
		log.Printf("🔄 Database connection attempt %d/3...", i+1)
		if db, err = connectDB(); err == nil {
			log.Printf("✅ Successfully connected to database!")
			return
		}
		log.Printf("❌ Connection attempt %d failed: %v", i+1, err)
		time.Sleep(time.Second * 2)
	}

	log.Fatal("❌ Failed to connect to database after 3 attempts")
}

func connectDB() (*sql.DB, error) {
	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Printf("⚙️ Database connection pool configured (max: 25 connections)")
	return db, nil
}

func recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("❌ PANIC RECOVERED: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func main() {
	log.Printf("🚀 Starting Engage Router...")
	loadConfig()
	setupDatabase()

	dataStore = store.NewPostgresStore(db)
	convCache = cache.New(config.RedisAddr, config.RedisUsername, config.RedisPassword)

	registry = adapter.NewRegistry()
	registry.Register(adapter.NewFacebook(dataStore, config.FacebookAppID, config.FacebookAppSecret))
	registry.Register(adapter.NewInstagram(dataStore))

	aiClient = classifier.New(config.AIGatewayKey, config.AIGatewayURL, config.AIModel)
	dispatcher = responder.NewDispatcher(dataStore, registry)
	poller = responder.NewPoller(dataStore, aiClient, dispatcher, config.PollInterval)
	scanner = responder.NewScanner(dataStore, registry, aiClient, dispatcher)

	// Pick up auto-responders that were active before the last restart.
	if err := poller.Resume(context.Background()); err != nil {
		log.Printf("⚠️ Could not resume responders: %v", err)
	}

	router := http.NewServeMux()
	router.HandleFunc("/webhook", recoverMiddleware(validateSignature(handleWebhook)))
	router.HandleFunc("/api/social", recoverMiddleware(handleSocialAction))
	router.HandleFunc("/api/connections", recoverMiddleware(handleConnections))
	router.HandleFunc("/api/connections/disconnect", recoverMiddleware(handleDisconnect))
	router.HandleFunc("/api/conversations", recoverMiddleware(handleListConversations))
	router.HandleFunc("/api/conversations/ai", recoverMiddleware(handleConversationAI))
	router.HandleFunc("/api/messages", recoverMiddleware(handleListMessages))
	router.HandleFunc("/api/send", recoverMiddleware(handleSend))
	router.HandleFunc("/api/responder/start", recoverMiddleware(handleResponderStart))
	router.HandleFunc("/api/responder/stop", recoverMiddleware(handleResponderStop))
	router.HandleFunc("/api/responder/status", recoverMiddleware(handleResponderStatus))
	router.HandleFunc("/api/dashboard", recoverMiddleware(handleDashboard))
	router.HandleFunc("/api/admin/login", recoverMiddleware(handleAdminLogin))
	router.HandleFunc("/api/admin/incidents", recoverMiddleware(auth.Middleware(config.JWTSecret, handleIncidents)))
	router.HandleFunc("/api/admin/incidents/ack", recoverMiddleware(auth.Middleware(config.JWTSecret, handleIncidentAck)))
	router.HandleFunc("/api/admin/audit", recoverMiddleware(auth.Middleware(config.JWTSecret, handleAudit)))
	router.Handle("/metrics", promhttp.Handler())

	log.Printf("🌐 Server starting on port %s", config.Port)
	log.Fatal(http.ListenAndServe(":"+config.Port, router))
}
