package uiservice

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/bigjimnolan/softrains/statequeue"
	"github.com/bigjimnolan/softrains/statestore"
)

const authCookie = "softrains_auth"

type UIService struct {
	ServerKeyPath  string `json:"ServerKeyPath"`
	ServerCertPath string `json:"ServerCertPath"`
	ListenPort     string `json:"ListenPort"`
	// WaitTimeoutSeconds caps how long a request may wait for an outcome.
	WaitTimeoutSeconds int `json:"WaitTimeoutSeconds"`

	StateHandler *statequeue.Handler `json:"-"`
	Store        *statestore.Store   `json:"-"`
	Gatherer     prometheus.Gatherer `json:"-"`
	authPassword string
}

type writeResponse struct {
	ID     string `json:"id"`
	Val    any    `json:"val"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

type stateResponse struct {
	ID  string    `json:"id"`
	Val any       `json:"val"`
	Ack bool      `json:"ack"`
	Ts  time.Time `json:"ts"`
}

func (ui *UIService) Start() error {
	ui.authPassword = os.Getenv("SOFTRAINS_AUTH_PASSWORD")
	if ui.authPassword == "" {
		log.Warn().Msg("SOFTRAINS_AUTH_PASSWORD not set, the API cannot be logged into")
	}

	server := &http.Server{
		Addr:    ":" + ui.ListenPort,
		Handler: ui.Routes(),
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if ui.ServerCertPath == "" {
		log.Info().Msg("UI running on http://0.0.0.0:" + ui.ListenPort)
		return server.ListenAndServe()
	}
	if _, err := os.Stat(ui.ServerCertPath); err != nil {
		log.Fatal().Msgf("cert not found at %s: %v", ui.ServerCertPath, err)
	}
	if _, err := os.Stat(ui.ServerKeyPath); err != nil {
		log.Fatal().Msgf("key not found at %s: %v", ui.ServerKeyPath, err)
	}
	log.Info().Msg("UI running on https://0.0.0.0:" + ui.ListenPort)
	return server.ListenAndServeTLS(ui.ServerCertPath, ui.ServerKeyPath)
}

// Routes wires the API.
func (ui *UIService) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", ui.loginHandler)
	mux.HandleFunc("/state", ui.authMiddleware(ui.stateHandler))
	mux.HandleFunc("/status", ui.authMiddleware(ui.statusHandler))
	mux.HandleFunc("/wait", ui.authMiddleware(ui.waitHandler))
	if ui.Gatherer != nil {
		mux.Handle("/metrics", ui.authMiddleware(promhttp.HandlerFor(ui.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	}
	return mux
}

func (ui *UIService) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.ParseForm()
	if ui.authPassword == "" || r.FormValue("password") != ui.authPassword {
		log.Warn().Msgf("failed login from %s", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: authCookie, Value: ui.authPassword, Path: "/", Secure: ui.ServerCertPath != "", HttpOnly: true})
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Logged in"))
}

func (ui *UIService) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookie)
		if err != nil || ui.authPassword == "" || cookie.Value != ui.authPassword {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (ui *UIService) stateHandler(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("id")
	if target == "" {
		log.Error().Msg("Missing id for state request")
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := ui.Store.Get(target)
		if errors.Is(err, statestore.ErrNotFound) {
			http.Error(w, "State not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error().Msgf("Failed to read %s: %v", target, err)
			http.Error(w, "Failed to read state", http.StatusInternalServerError)
			return
		}
		ui.writeJSON(w, http.StatusOK, stateResponse{ID: target, Val: st.Val, Ack: st.Ack, Ts: st.Ts})

	case http.MethodPost:
		r.ParseForm()
		if !r.Form.Has("val") {
			log.Error().Msgf("Missing val for %s", target)
			http.Error(w, "Missing val", http.StatusBadRequest)
			return
		}
		val := parseValue(r.FormValue("val"))
		future := ui.StateHandler.WriteValue(target, val, func(outcome statequeue.State, e *statequeue.Entry) {
			log.Info().Msgf("%s finished: %s", e.Label(), outcome)
		})

		resp := writeResponse{ID: target, Val: val, Result: statequeue.Processing.String()}
		if res, ok := future.Result(); ok {
			resp.Result = res.State.String()
		}
		if r.URL.Query().Get("wait") == "true" {
			ctx, cancel := context.WithTimeout(r.Context(), ui.waitTimeout())
			defer cancel()
			res, err := future.Wait(ctx)
			if err != nil {
				resp.Error = err.Error()
				ui.writeJSON(w, http.StatusGatewayTimeout, resp)
				return
			}
			resp.Result = res.State.String()
			if res.Err != nil {
				resp.Error = res.Err.Error()
			}
		}
		ui.writeJSON(w, http.StatusOK, resp)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (ui *UIService) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ui.writeJSON(w, http.StatusOK, ui.StateHandler.Stats())
}

func (ui *UIService) waitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	timeout := ui.waitTimeout()
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Error().Msgf("Invalid timeout: %v", err)
			http.Error(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := ui.StateHandler.WaitUntilIdle(ctx); err != nil {
		http.Error(w, "Still processing", http.StatusGatewayTimeout)
		return
	}
	ui.writeJSON(w, http.StatusOK, ui.StateHandler.Stats())
}

func (ui *UIService) waitTimeout() time.Duration {
	if ui.WaitTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(ui.WaitTimeoutSeconds) * time.Second
}

func (ui *UIService) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Msgf("Failed to encode response: %v", err)
	}
}

// parseValue reads form values as JSON when they are valid JSON, so "true"
// and "50" arrive typed, and as plain strings otherwise.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
