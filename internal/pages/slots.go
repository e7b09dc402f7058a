package pages

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"popupflow/internal/popup"
	"popupflow/pkg/platform/sentinel"
)

const maxRecordBytes = 4 << 10

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validSlot(slot string) bool {
	return slotPattern.MatchString(slot)
}

type newSlotResponse struct {
	Slot string `json:"slot"`
}

func (h *Handler) handleNewSlot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(newSlotResponse{Slot: uuid.NewString()}); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write slot response", "error", err)
	}
}

func (h *Handler) handlePutSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slot := chi.URLParam(r, "slot")
	if !validSlot(slot) {
		http.Error(w, "invalid slot", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		http.Error(w, "record too large", http.StatusRequestEntityTooLarge)
		return
	}
	if _, err := popup.DecodeMessage(body); err != nil {
		h.logger.WarnContext(ctx, "rejected outcome record", "slot", slot, "error", err)
		http.Error(w, "malformed record", http.StatusBadRequest)
		return
	}

	if err := h.store.Put(ctx, slot, string(body)); err != nil {
		h.logger.ErrorContext(ctx, "failed to store outcome record", "slot", slot, "error", err)
		writeStoreError(w, err)
		return
	}
	h.metrics.IncrementSlotWrites()
	w.WriteHeader(http.StatusNoContent)
}

// handleTakeSlot returns and deletes the record. An empty slot is 204.
func (h *Handler) handleTakeSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slot := chi.URLParam(r, "slot")
	if !validSlot(slot) {
		http.Error(w, "invalid slot", http.StatusBadRequest)
		return
	}

	record, ok, err := h.store.Take(ctx, slot)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to take outcome record", "slot", slot, "error", err)
		writeStoreError(w, err)
		return
	}
	h.metrics.IncrementSlotTakes(ok)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := io.WriteString(w, record); err != nil {
		h.logger.ErrorContext(ctx, "failed to write outcome record", "slot", slot, "error", err)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sentinel.ErrUnavailable) {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
