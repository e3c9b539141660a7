// Package server provides the public entry point for initializing the
// ModelRelay routing service.
//
// This package exists in pkg/ (not internal/) so that embedding deployments
// can import it and compose the full server with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelrelay/modelrelay/internal/api"
	"github.com/modelrelay/modelrelay/internal/api/handlers"
	"github.com/modelrelay/modelrelay/internal/breaker"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/engine"
	"github.com/modelrelay/modelrelay/internal/gateway"
	"github.com/modelrelay/modelrelay/internal/invoker"
	"github.com/modelrelay/modelrelay/internal/policy"
	"github.com/modelrelay/modelrelay/internal/recorder"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized ModelRelay service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (PostgreSQL when DATABASE_URL is set,
	// in-memory otherwise). Exposed so embedders can seed or inspect it.
	Store store.Store

	// Gateway is the routing entry point, exposed for embedders that
	// route without going through HTTP.
	Gateway *gateway.Gateway

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and returns
// a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = pg
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized")
	}

	cat := catalog.New(dataStore)
	resolver := policy.NewResolver(cat, dataStore, dataStore, cfg.Routing.LastResortProvider)

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		OpenDuration:      cfg.Breaker.OpenDuration,
		HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
	})

	sink := recorder.MultiSink{recorder.LogSink{}, recorder.MetricsSink{}}
	eng := engine.New(breakers, sink, engine.BackoffConfig{
		Initial:    cfg.Backoff.Initial,
		Multiplier: cfg.Backoff.Multiplier,
		Cap:        cfg.Backoff.Cap,
	})

	invokers := invoker.NewRegistry(cfg.Routing.InvokeTimeout)
	gw := gateway.New(cat, resolver, eng, invokers, breakers, cfg.Routing.DegradedThreshold)

	h := handlers.New(dataStore, cat, gw, breakers, cfg.Version)
	router := api.NewRouter(h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Gateway:      gw,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
