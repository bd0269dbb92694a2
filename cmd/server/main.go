package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bengkelku/backend/internal/cache"
	"bengkelku/backend/internal/config"
	"bengkelku/backend/internal/httpapi"
	"bengkelku/backend/internal/reminder"
	"bengkelku/backend/internal/service"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/store/memory"
	pgstore "bengkelku/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	loyaltyCache := cache.LoyaltyStatusCache(cache.NoopLoyaltyStatusCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisLoyaltyStatusCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			loyaltyCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, loyaltyCache, reminder.LogDispatcher{}, service.Options{
		LaborRatePerHour:         cfg.LaborRatePerHour,
		DefaultTaxRatePercent:    cfg.DefaultTaxRatePercent,
		ReminderDaysBefore:       cfg.ReminderDaysBefore,
		ReminderMileageThreshold: cfg.ReminderMileageThreshold,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	scanDone := make(chan struct{})
	scanStop := make(chan struct{})
	if cfg.ReminderScanMinutes > 0 {
		go runReminderLoop(svc, time.Duration(cfg.ReminderScanMinutes)*time.Minute, scanStop, scanDone)
	} else {
		close(scanDone)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("workshop backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(scanStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	<-scanDone
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// runReminderLoop fires a service-due scan on a fixed interval until
// stop is closed.
func runReminderLoop(svc *service.Service, every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Printf("reminder scan every %s", every)
	for {
		select {
		case <-ticker.C:
			scanCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			stats, err := svc.RunReminderScan(scanCtx)
			cancel()
			if err != nil {
				log.Printf("reminder scan failed: %v", err)
				continue
			}
			log.Printf("reminder scan: checked=%d due=%d created=%d dispatched=%d failed=%d",
				stats.Checked, stats.Due, stats.NotificationsCreated, stats.Dispatched, stats.Failed)
		case <-stop:
			return
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
