package pages

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

var errInvalidCallback = errors.New("invalid callback_url")

type bankPage struct {
	CallbackURL string
	Code        string
	Error       string
}

func (h *Handler) handleBankForm(w http.ResponseWriter, r *http.Request) {
	callback, err := parseCallback(r.URL.Query().Get("callback_url"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "bank page opened without a usable callback", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.render(w, r, http.StatusOK, "bank.html", bankPage{CallbackURL: callback.String()})
}

func (h *Handler) handleBankVerify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callback, err := parseCallback(r.PostForm.Get("callback_url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code := sanitizeCode(r.PostForm.Get("code"))
	if code != VerificationCode {
		h.metrics.IncrementVerifications("invalid")
		h.logger.InfoContext(r.Context(), "verification code rejected")
		h.render(w, r, http.StatusUnprocessableEntity, "bank.html", bankPage{
			CallbackURL: callback.String(),
			Code:        code,
			Error:       "Invalid OTP. Hint: Use " + VerificationCode,
		})
		return
	}

	h.metrics.IncrementVerifications("verified")
	q := callback.Query()
	q.Set("message", successMessage)
	callback.RawQuery = q.Encode()
	http.Redirect(w, r, callback.String(), http.StatusSeeOther)
}

func (h *Handler) handleBankCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callback, err := parseCallback(r.PostForm.Get("callback_url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.metrics.IncrementVerifications("cancelled")
	callback.Path = strings.Replace(callback.Path, "success-callback", "cancelled-callback", 1)
	http.Redirect(w, r, callback.String(), http.StatusSeeOther)
}

// parseCallback accepts absolute http(s) URLs and same-site absolute paths.
func parseCallback(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errInvalidCallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errInvalidCallback
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == "" {
			return nil, errInvalidCallback
		}
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(raw, "//"):
	default:
		return nil, errInvalidCallback
	}
	return u, nil
}

// sanitizeCode keeps the first four digits of the input.
func sanitizeCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() == codeLength {
			break
		}
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
