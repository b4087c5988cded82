package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStartJob handles POST /api/v1/jobs
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.startJob(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, resp)
}

// handleJobStatus handles GET /api/v1/jobs/{handle}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.jobStatus(JobHandleRequest{Handle: chi.URLParam(r, "handle")})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handleCancelJob handles DELETE /api/v1/jobs/{handle}
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cancelJob(JobHandleRequest{Handle: chi.URLParam(r, "handle")})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleDOE(w http.ResponseWriter, r *http.Request) {
	var req DOERequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.generateDOE(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.fitSurrogate(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}
