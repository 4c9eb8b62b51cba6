package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/cinema-order-saga/internal/app"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/handler"
	"github.com/iliyamo/cinema-order-saga/internal/middleware"
	"github.com/iliyamo/cinema-order-saga/internal/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, "order-api")
	if err != nil {
		log.Fatal(err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	router.RegisterRoutes(e)
	router.RegisterTransactions(e, handler.NewTransactionHandler(rt.Saga), router.Options{
		JWTSecret:   cfg.JWTSecret,
		RateLimit:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rt.Redis),
		StaffGroups: rt.Policy.StaffGroups,
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		log.Printf("close: %v", err)
	}
}
