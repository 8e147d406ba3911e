package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ArchiveLister lists archived event-log objects.
type ArchiveLister interface {
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive listing.
type ArchiveHandler struct {
	archives ArchiveLister
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

type listArchivesResponse struct {
	Archives []domain.BlobInfo `json:"archives"`
}

// ListArchives returns the monthly event archives in object storage.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: infos})
}
