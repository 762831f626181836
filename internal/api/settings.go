package api

import (
	"net/http"
	"net/url"
	"strings"
)

type targetLinkRequest struct {
	TargetLink string `json:"target_link"`
}

type targetLinkResponse struct {
	TargetLink string `json:"target_link"`
}

type totalViewersResponse struct {
	TotalViewers int `json:"total_viewers"`
}

func (s *Server) handleGetTargetLink(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, targetLinkResponse{TargetLink: s.orch.TargetLink()})
}

// handleSetTargetLink stores the stream link. An empty link is accepted and
// makes running blocks wait.
func (s *Server) handleSetTargetLink(w http.ResponseWriter, r *http.Request) {
	var req targetLinkRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	link := strings.TrimSpace(req.TargetLink)
	if link != "" {
		u, err := url.ParseRequestURI(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			s.writeJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{
				Error: "invalid target_link: must be an absolute http(s) URL",
				Field: "target_link",
			})
			return
		}
	}

	if err := s.orch.SetTargetLink(r.Context(), link); err != nil {
		s.logger.Error("set target link", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save target link")
		return
	}
	s.writeJSON(w, http.StatusOK, targetLinkResponse{TargetLink: link})
}

func (s *Server) handleTotalViewers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, totalViewersResponse{TotalViewers: s.orch.TotalViewers()})
}

// handleResetAll resets every block and purges the history log. It executes
// immediately; confirmation is the caller's job.
func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.ResetAll(r.Context()); err != nil {
		s.logger.Error("reset all", "error", err)
		s.writeError(w, http.StatusInternalServerError, "reset completed with errors")
		return
	}
	s.writeJSON(w, http.StatusOK, totalViewersResponse{TotalViewers: s.orch.TotalViewers()})
}
