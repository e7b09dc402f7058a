package pages

import (
	"net/http"

	"popupflow/internal/popup"
)

type callbackPage struct {
	Title    string
	Subtitle string
	Tone     string
	Response popup.Message
	SlotKey  string
	Slot     string
}

type depositPage struct {
	FrameURL string
}

// The callback pages report to the opener when there is one and otherwise
// persist the outcome for the tab tracker before closing themselves.
func (h *Handler) handleSuccessCallback(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		message = successMessage
	}
	h.render(w, r, http.StatusOK, "callback.html", callbackPage{
		Title:    "Verification Successful",
		Subtitle: "Completing your request...",
		Tone:     "success",
		Response: popup.NewMessage(popup.TypeSuccess, message),
		SlotKey:  popup.SlotKey,
		Slot:     slotParam(r),
	})
}

func (h *Handler) handleCancelledCallback(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "callback.html", callbackPage{
		Title:    "Operation Cancelled",
		Subtitle: "Closing window...",
		Tone:     "cancelled",
		Response: popup.NewMessage(popup.TypeCancel, cancelMessage),
		SlotKey:  popup.SlotKey,
		Slot:     slotParam(r),
	})
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "deposit.html", depositPage{FrameURL: h.frameURL})
}

func (h *Handler) handleDepositFrame(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "frame.html", nil)
}

func slotParam(r *http.Request) string {
	slot := r.URL.Query().Get("slot")
	if !validSlot(slot) {
		return ""
	}
	return slot
}
