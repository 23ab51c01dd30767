package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/limbo/routinesync/internal/coordinator"
)

// Server is a thin localhost facade over the coordinator, for presentation
// code running out of process. It exposes exactly the consumer contract:
// a snapshot read plus the four mutations.
type Server struct {
	mx          *chi.Mux
	coordinator coordinator.CoordinatorI
}

type ServicesList struct {
	Coordinator coordinator.CoordinatorI
}

func New(servicesOptions *ServicesList) *Server {
	s := &Server{
		mx:          chi.NewMux(),
		coordinator: servicesOptions.Coordinator,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mx.Use(s.RequestIDMiddleware)
	s.mx.Use(s.SettingUpLoggerMiddleware)
	s.mx.Route("/api/v1", func(r chi.Router) {
		r.Get("/routines", s.GetRoutines)
		r.Post("/routines", s.CreateRoutine)
		r.Patch("/routines/{id}", s.UpdateRoutine)
		r.Post("/routines/{id}/complete", s.ToggleComplete)
		r.Delete("/routines/{id}", s.DeleteRoutine)
	})
}

func (s *Server) Handler() http.Handler {
	return s.mx
}

func (s *Server) Run(address string) error {
	return http.ListenAndServe(address, s.mx)
}
