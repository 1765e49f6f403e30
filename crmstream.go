// Package crmstream consumes the CRM assistant's streaming chat endpoint,
// parses structured replies and relays conversations to browser clients.
//
// The root package wires the pieces from a Config; the work is done in the
// stream, structured, render, stores, sessions and server packages.
package crmstream

import (
	"fmt"
	"log"

	"github.com/Desarso/crmstream/render"
	"github.com/Desarso/crmstream/server"
	"github.com/Desarso/crmstream/sessions"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/stream"
	"github.com/Desarso/crmstream/structured"
)

// Re-export the types most callers need
type (
	Event       = stream.Event
	ChatSession = sessions.ChatSession
	Update      = sessions.Update
	Manager     = sessions.Manager
	ChatMessage = stores.ChatMessage
	History     = stores.History
	Info        = structured.Info
	View        = render.View
)

// Parse extracts structured customer information from reply text. It
// returns nil for plain replies.
func Parse(content string) *Info {
	return structured.Parse(content)
}

// Relay is a fully wired relay server with its store and retention job.
type Relay struct {
	Config  *Config
	Store   stores.MessageStore
	Manager *sessions.Manager
	Server  *server.Server
	Pruner  *stores.Pruner
}

// NewRelay opens the store and builds the session manager and server
// described by cfg. Call Close when done.
func NewRelay(cfg *Config, logger *log.Logger) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	client := cfg.Client()
	if logger != nil {
		client.WithLogger(logger)
	}
	manager, err := cfg.Manager(client, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	r := &Relay{
		Config:  cfg,
		Store:   store,
		Manager: manager,
		Server:  cfg.Server(manager),
	}
	if logger != nil {
		manager.Logger = logger
		r.Server.WithLogger(logger)
	}
	if store != nil && cfg.Retention() > 0 {
		r.Pruner = cfg.Pruner(store)
		if logger != nil {
			r.Pruner.WithLogger(logger)
		}
	}
	return r, nil
}

// Start schedules the retention job, if any.
func (r *Relay) Start() error {
	if r.Pruner == nil {
		return nil
	}
	if err := r.Pruner.Start(); err != nil {
		return fmt.Errorf("failed to start pruner: %w", err)
	}
	return nil
}

// Close stops the retention job and closes the store.
func (r *Relay) Close() error {
	if r.Pruner != nil {
		<-r.Pruner.Stop().Done()
	}
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}
