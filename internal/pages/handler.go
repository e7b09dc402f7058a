// Package pages serves the collaborator pages a popup flow runs through:
// the loading page, a mock bank verification page, the callback pages that
// report the outcome back to the opener, the deposit aggregator and the
// outcome slot API used when the opener and the tab share no storage.
package pages

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"popupflow/internal/platform/metrics"
	"popupflow/internal/popup/ports"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	// VerificationCode is the only code the mock bank accepts.
	VerificationCode = "1234"
	codeLength       = 4

	successMessage = "OTP verified successfully"
	cancelMessage  = "Operation cancelled by user"
)

// Handler serves the pages and the slot API.
type Handler struct {
	logger    *slog.Logger
	store     ports.OutcomeStore
	metrics   *metrics.HTTP
	templates *template.Template

	frameURL  string
	staticDir string
}

type Option func(*Handler)

// WithDepositFrame sets the URL of the embedded deposit app.
func WithDepositFrame(url string) Option {
	return func(h *Handler) {
		h.frameURL = url
	}
}

// WithStaticDir serves the wasm bundle from dir under /static/.
func WithStaticDir(dir string) Option {
	return func(h *Handler) {
		h.staticDir = dir
	}
}

// New creates a pages Handler.
func New(store ports.OutcomeStore, logger *slog.Logger, m *metrics.HTTP, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("outcome store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	h := &Handler{
		logger:    logger,
		store:     store,
		metrics:   m,
		templates: tmpl,
		frameURL:  "/deposit/frame",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register registers the page and slot routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/loading", h.handleLoading)

	r.Get("/thirdparty-bank", h.handleBankForm)
	r.Post("/thirdparty-bank/verify", h.handleBankVerify)
	r.Post("/thirdparty-bank/cancel", h.handleBankCancel)

	r.Get("/success-callback", h.handleSuccessCallback)
	r.Get("/cancelled-callback", h.handleCancelledCallback)

	r.Get("/deposit", h.handleDeposit)
	r.Get("/deposit/frame", h.handleDepositFrame)

	r.Route("/api/outcome", func(r chi.Router) {
		r.Post("/", h.handleNewSlot)
		r.Put("/{slot}", h.handlePutSlot)
		r.Post("/{slot}/take", h.handleTakeSlot)
	})

	if h.staticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir))))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page", "template", name, "error", err)
	}
}

func (h *Handler) handleLoading(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "loading.html", nil)
}
