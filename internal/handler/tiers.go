package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/service"
)

// TiersHandler lists a creator's tiers and the community channels each unlocks.
type TiersHandler struct {
	channels service.ChannelDirectory
}

// NewTiersHandler creates a new TiersHandler.
func NewTiersHandler(channels service.ChannelDirectory) *TiersHandler {
	return &TiersHandler{channels: channels}
}

// List handles GET /api/creators/{creatorID}/tiers.
func (h *TiersHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.ListCreatorChannels(r.Context(), chi.URLParam(r, "creatorID"))
	if err != nil {
		Error(w, domain.ErrInternal("failed to load channels", err))
		return
	}
	JSON(w, http.StatusOK, domain.GroupChannelsByTier(channels))
}
