package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/PaczkoBox/config"
	"github.com/BearBump/PaczkoBox/internal/integrations/inpost"
	"github.com/BearBump/PaczkoBox/internal/services/poller"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	poller *poller.Poller
	auth   *inpost.AuthManager
	api    *inpost.Client
	cfg    *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// ready once the first snapshot exists; before that the counters
		// would all read zero
		if opts.poller == nil || opts.poller.Snapshot() == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first poll"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.poller.Stats())
	})

	r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "poller not wired"})
			return
		}
		snap := opts.poller.Snapshot()
		if snap == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Get("/profile", func(w http.ResponseWriter, r *http.Request) {
		if opts.api == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "client not wired"})
			return
		}
		profile, err := opts.api.FetchAccountProfile(r.Context())
		if err != nil {
			writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})

	r.Get("/auth/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(opts.auth.State())})
	})

	r.Post("/auth/phone", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			PhoneNumber string `json:"phone_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
			return
		}
		if err := opts.auth.BeginLogin(r.Context(), in.PhoneNumber); err != nil {
			writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": string(opts.auth.State())})
	})

	r.Post("/auth/sms", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
			return
		}
		emailPending, err := opts.auth.SubmitSMSCode(r.Context(), in.Code)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if !emailPending && opts.poller != nil {
			opts.poller.Trigger()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":         string(opts.auth.State()),
			"email_pending": emailPending,
		})
	})

	r.Post("/auth/email/poll", func(w http.ResponseWriter, r *http.Request) {
		done, err := opts.auth.PollEmailVerification(r.Context())
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if done && opts.poller != nil {
			opts.poller.Trigger()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state": string(opts.auth.State()),
			"done":  done,
		})
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, err error) {
	var rl *inpost.RateLimitedError
	switch {
	case errors.Is(err, inpost.ErrInvalidPhoneNumber),
		errors.Is(err, inpost.ErrInvalidCode),
		errors.Is(err, inpost.ErrCodeExpired),
		errors.Is(err, inpost.ErrNotAuthenticated):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &rl):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, inpost.ErrIdentityLimitReached):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}
