package server

import "github.com/go-chi/chi/v5"

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// WebSocket channel endpoints.
	s.router.Get("/ws/chat", s.handleChatWS)
	s.router.Get("/ws/terminal", s.handleTerminalWS)
	s.router.Get("/ws/files", s.handleFilesWS)

	s.router.Post("/auth/refresh", s.handleAuthRefresh)

	// REST mirrors for non-streaming clients.
	s.router.Route("/session/{userID}", func(r chi.Router) {
		r.Get("/status", s.handleSessionStatus)
	})
	s.router.Route("/files/{userID}", func(r chi.Router) {
		r.Get("/tree", s.handleFileTree)
		r.Get("/flat", s.handleFileFlat)
		r.Get("/content", s.handleFileContent)
	})
	s.router.Route("/history/{userID}", func(r chi.Router) {
		r.Get("/", s.handleHistory)
		r.Get("/conversations", s.handleConversations)
	})
}
