package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"remindMeAPI/handlers"
	"remindMeAPI/internal/completion"
	"remindMeAPI/internal/lock"
	"remindMeAPI/internal/notification"
	"remindMeAPI/internal/workers"
	"remindMeAPI/middleware"
	"remindMeAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool       *pgxpool.Pool
	redisClient  *redis.Client
	habitService *services.HabitService
	alarmService *services.AlarmService
	eventService *services.EventService
	processor    *completion.Processor
	runner       *workers.Runner
	fcmService   *notification.FCMService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}
	log.Println("Successfully connected to Postgres")

	// Lock backend: Redis when configured, otherwise the Postgres
	// conditional-insert backend. There is never an unlocked mode.
	var locker lock.Locker
	var sweeper workers.LockSweeper
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal("Failed to parse REDIS_URL:", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to ping redis:", err)
		}
		locker = lock.NewRedisLocker(redisClient)
		log.Println("Using Redis lock backend")
	} else {
		pgLocker := lock.NewPostgresLocker(dbPool)
		locker = pgLocker
		sweeper = pgLocker
		log.Println("REDIS_URL not set, using Postgres lock backend")
	}

	habitService = services.NewHabitService(dbPool)
	alarmService = services.NewAlarmService(dbPool)
	eventService = services.NewEventService(dbPool)

	processor = completion.NewProcessor(habitService, alarmService, locker, eventService)
	if seconds, err := strconv.Atoi(os.Getenv("ALARM_DEDUP_WINDOW_SECONDS")); err == nil && seconds > 0 {
		processor.AlarmDedupWindow = time.Duration(seconds) * time.Second
	}

	fcmService, err = notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		eventService.SetPushProvider(fcmService)
		log.Println("FCM Push Provider initialized successfully")
	}

	runner = workers.NewRunner(alarmService, processor, sweeper)

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	habitHandler := handlers.NewHabitHandler(habitService, processor)
	alarmHandler := handlers.NewAlarmHandler(alarmService, processor)
	eventHandler := handlers.NewEventHandler(eventService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "unhealthy", "error": "lock service connection failed"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "remindMe-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 - PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.ClerkAuthMiddleware)

	api.HandleFunc("/habits", habitHandler.CreateHabit).Methods("POST")
	api.HandleFunc("/habits", habitHandler.GetHabits).Methods("GET")
	api.HandleFunc("/habits/{id}", habitHandler.GetHabit).Methods("GET")
	api.HandleFunc("/habits/{id}", habitHandler.UpdateHabit).Methods("PUT")
	api.HandleFunc("/habits/{id}", habitHandler.DeleteHabit).Methods("DELETE")
	api.HandleFunc("/habits/{id}/tick", habitHandler.TickHabit).Methods("POST")

	api.HandleFunc("/alarms", alarmHandler.CreateAlarm).Methods("POST")
	api.HandleFunc("/alarms", alarmHandler.GetAlarms).Methods("GET")
	api.HandleFunc("/alarms/{id}", alarmHandler.GetAlarm).Methods("GET")
	api.HandleFunc("/alarms/{id}", alarmHandler.UpdateAlarm).Methods("PUT")
	api.HandleFunc("/alarms/{id}", alarmHandler.DeleteAlarm).Methods("DELETE")
	api.HandleFunc("/alarms/{id}/fire", alarmHandler.FireAlarm).Methods("POST")
	api.HandleFunc("/alarms/{id}/dismiss", alarmHandler.DismissAlarm).Methods("POST")

	api.HandleFunc("/events", eventHandler.GetEvents).Methods("GET")
	api.HandleFunc("/notifications/register-device", eventHandler.RegisterDevice).Methods("POST")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	if err := runner.Start(); err != nil {
		log.Fatal("Failed to start background workers:", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	runner.Stop()
	eventService.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
