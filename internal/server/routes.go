package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/status", s.status)

	// Replies
	r.Post("/reply", s.reply)
	r.Post("/ask", s.ask)
	r.Post("/confirm", s.confirm)
	r.Post("/tool_result", s.toolResult)

	// Sessions
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{sessionID}", s.getSession)
		r.Delete("/{sessionID}", s.deleteSession)
	})

	// Agent
	r.Route("/agent", func(r chi.Router) {
		r.Get("/tools", s.listTools)
		r.Post("/provider", s.updateProvider)
		r.Get("/frontend_tools", s.listFrontendTools)
		r.Post("/frontend_tools", s.registerFrontendTools)
		r.Delete("/frontend_tools/{name}", s.removeFrontendTool)
	})

	// Extensions
	r.Route("/extensions", func(r chi.Router) {
		r.Get("/", s.listExtensions)
		r.Get("/resources", s.listResources)
		r.Post("/resources/read", s.readResource)
		r.Get("/prompts", s.listPrompts)
		r.Post("/prompts/{name}", s.getPrompt)
	})

	// Configuration
	r.Route("/config", func(r chi.Router) {
		r.Get("/providers", s.listProviders)
		r.Post("/read", s.readConfig)
		r.Post("/upsert", s.upsertConfig)
		r.Post("/remove", s.removeConfig)
	})

	// Bus events (SSE)
	r.Get("/event", s.busEvents)
}
