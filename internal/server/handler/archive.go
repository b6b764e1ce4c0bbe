package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ArchiveHandler lists uploaded ledger archives.
type ArchiveHandler struct {
	lister domain.BlobLister
	root   string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler listing objects under root.
func NewArchiveHandler(lister domain.BlobLister, root string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{lister: lister, root: root, logger: logHandler(logger, "archive")}
}

// ListArchives returns archived objects, optionally narrowed by ?reason=.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := h.root
	if reason := strings.Trim(r.URL.Query().Get("reason"), "/"); reason != "" {
		prefix += reason + "/"
	}
	objects, err := h.lister.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": objects})
}
