package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strandlabs/strand/internal/catalog"
	"github.com/strandlabs/strand/internal/model"
)

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.List(model.KindTool))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.List(model.KindWorkflow))
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	kind, ok := targetKind(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown catalog kind")
		return
	}

	target, err := s.catalog.Resolve(kind, chi.URLParam(r, "name"))
	if errors.Is(err, catalog.ErrTargetNotFound) {
		s.writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		s.logger.Error("resolve target", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve target")
		return
	}

	s.writeJSON(w, http.StatusOK, target)
}

// targetKind maps the plural catalog path segment to the job kind.
func targetKind(segment string) (string, bool) {
	switch segment {
	case "tools":
		return model.KindTool, true
	case "workflows":
		return model.KindWorkflow, true
	default:
		return "", false
	}
}
