package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/servicedg/internal/engine"
	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/report"
)

// blockResponse is a block snapshot plus its auto-start status.
type blockResponse struct {
	model.Block
	AutoStartArmed bool `json:"auto_start_armed"`
}

// listBlocksResponse is the JSON response for GET /v1/blocks.
type listBlocksResponse struct {
	Blocks       []blockResponse `json:"blocks"`
	TotalViewers int             `json:"total_viewers"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func toBlockResponse(b *engine.Block) blockResponse {
	return blockResponse{Block: b.Snapshot(), AutoStartArmed: b.AutoStartArmed()}
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := s.orch.Blocks()
	resp := listBlocksResponse{
		Blocks:       make([]blockResponse, 0, len(blocks)),
		TotalViewers: s.orch.TotalViewers(),
	}
	for _, b := range blocks {
		resp.Blocks = append(resp.Blocks, toBlockResponse(b))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.Handle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "get block", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBlockResponse(b))
}

func (s *Server) handleEditBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.Handle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "edit block", err)
		return
	}

	var cfg model.BlockConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := b.Edit(r.Context(), cfg); err != nil {
		s.writeEngineError(w, "edit block", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBlockResponse(b))
}

func (s *Server) handleRenameBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.Handle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "rename block", err)
		return
	}

	var req renameRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := b.Rename(r.Context(), req.Title); err != nil {
		s.writeEngineError(w, "rename block", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBlockResponse(b))
}

// handleBlockAction runs one lifecycle command on a block.
func (s *Server) handleBlockAction(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.Handle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "run block action", err)
		return
	}

	action := chi.URLParam(r, "action")
	ctx := r.Context()
	switch action {
	case "start":
		err = b.Start(ctx)
	case "pause":
		err = b.Pause(ctx)
	case "resume":
		err = b.Resume(ctx)
	case "finalize":
		err = b.Finalize(ctx)
	case "reset":
		err = b.Reset(ctx)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.writeEngineError(w, action+" block", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBlockResponse(b))
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.orch.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "get report", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// handleExportReport streams the block's report as a csv, xlsx or html
// attachment.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := s.orch.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "export report", err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(rep)))
	w.WriteHeader(http.StatusOK)
	if err := report.Write(w, rep, format); err != nil {
		s.logger.Error("write report export", "block_id", rep.BlockID, "format", string(format), "error", err)
	}
}
