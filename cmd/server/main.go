package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/akarpov91/vending_machine/internal/config"
	"github.com/akarpov91/vending_machine/internal/es"
	"github.com/akarpov91/vending_machine/internal/handlers"
	"github.com/akarpov91/vending_machine/internal/locker"
	"github.com/akarpov91/vending_machine/internal/logging"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	loggingmw "github.com/akarpov91/vending_machine/internal/middleware/logging"
	"github.com/akarpov91/vending_machine/internal/mykafka"
	httpserver "github.com/akarpov91/vending_machine/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}

	jwtSecret := []byte(configuration.JWT_SECRET)

	var producer *mykafka.Producer
	if configuration.KAFKA_ADDRESS != "" {
		producer, err = mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
		if err != nil {
			log.Fatal(err)
		}
	}

	searchHandler := &handlers.SearchHandler{Index: configuration.ES_INDEX}
	productHandler := &handlers.ProductHandler{DB: db, Producer: producer, ESIndex: configuration.ES_INDEX}
	if configuration.ES_URL != "" {
		client, err := es.NewClient(configuration)
		if err != nil {
			log.Fatalf("elasticsearch init failed: %v", err)
		}
		searchHandler.ES = client
		productHandler.ES = client
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(loggingmw.RequestLogger(logger))

	deps := httpserver.Deps{
		Auth:    &authmw.Middleware{DB: db, JWTSecret: jwtSecret},
		User:    &handlers.AuthHandler{DB: db, JWTSecret: jwtSecret, Producer: producer},
		Product: productHandler,
		Vending: &handlers.VendingHandler{DB: db, Producer: producer, Locks: locker.New()},
		Search:  searchHandler,
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":" + configuration.APP_PORT,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if err := producer.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
