package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popupflow/internal/pages"
	"popupflow/internal/platform/config"
	"popupflow/internal/platform/metrics"
	"popupflow/internal/popup/store/outcome"
	"popupflow/pkg/testutil"
)

func TestRouterScaffold(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	testutil.Given(t, "the pages router", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		h, err := pages.New(outcome.NewInMemory(), log, m)
		require.NoError(t, err)
		healthy := true
		health := func(context.Context) error {
			if !healthy {
				return errors.New("redis down")
			}
			return nil
		}
		router := newRouter(log, h, m, health, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		testutil.When(t, "loading the verification page", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/loading"))

			testutil.Then(t, "it renders and records the route latency", func(t *testing.T) {
				testutil.AssertHTML(t, rr)

				scrape := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
				testutil.AssertStatus(t, scrape, http.StatusOK)
				assert.Contains(t, scrape.Body.String(), `route="/loading"`)
			})
		})

		testutil.When(t, "the slot store is healthy", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "healthz reports ok", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
			})
		})

		testutil.When(t, "the slot store is down", func(t *testing.T) {
			healthy = false
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "healthz reports unavailable", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
			})
		})
	})
}

func TestBuildStoreFallsBackToMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, health, closeStore, err := buildStore(context.Background(), config.Server{}, log)
	require.NoError(t, err)
	defer closeStore()

	assert.IsType(t, &outcome.InMemoryStore{}, store)
	assert.NoError(t, health(context.Background()))
}
