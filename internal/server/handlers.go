package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/accessory"
	"github.com/joshp123/gohome-resideo/internal/core"
)

const setTimeout = 15 * time.Second

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Registry *core.Registry
	Bridge   *accessory.Bridge
	Metrics  *prometheus.Registry
	Log      *logrus.Entry
}

// Routes builds the chi router. Plugins implementing core.HTTPRegistrant
// mount their own routes.
func Routes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	r.Get("/health", healthHandler(d.Registry))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{}))

	r.Get("/plugins", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.List())
	})
	r.Get("/plugins/{id}", func(w http.ResponseWriter, req *http.Request) {
		summary, ok := d.Registry.Describe(chi.URLParam(req, "id"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Get("/accessories", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Bridge.Snapshot())
	})
	r.Get("/accessories/{uuid}", func(w http.ResponseWriter, req *http.Request) {
		acc, ok := d.Bridge.Accessory(chi.URLParam(req, "uuid"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, acc.Snapshot())
	})
	r.Put("/accessories/{uuid}/{service}/{characteristic}", setHandler(d.Bridge))

	for _, p := range d.Registry.Plugins() {
		if reg, ok := p.(core.HTTPRegistrant); ok {
			reg.RegisterHTTP(r)
		}
	}
	return r
}

// healthHandler answers 200 unless a plugin reports an error.
func healthHandler(reg *core.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := reg.Overall()
		if status == core.HealthError {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte(string(status)))
	}
}

// setHandler writes a characteristic as the host would. The body is the
// JSON value.
func setHandler(bridge *accessory.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		acc, ok := bridge.Accessory(chi.URLParam(req, "uuid"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		c := acc.Characteristic(chi.URLParam(req, "service"), chi.URLParam(req, "characteristic"))
		if c == nil {
			http.NotFound(w, req)
			return
		}

		var value any
		body, err := io.ReadAll(io.LimitReader(req.Body, 4096))
		if err == nil {
			err = json.Unmarshal(body, &value)
		}
		if err != nil {
			http.Error(w, "body must be a JSON value", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(req.Context(), setTimeout)
		defer cancel()
		if err := c.RemoteSet(ctx, value); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, accessory.ErrInvalidValue) || errors.Is(err, accessory.ErrReadOnly) {
				status = http.StatusUnprocessableEntity
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, c.Snapshot())
	}
}

func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			if log != nil {
				log.WithFields(logrus.Fields{
					"method":   req.Method,
					"path":     req.URL.Path,
					"status":   ww.Status(),
					"duration": time.Since(start),
				}).Debug("http request")
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
