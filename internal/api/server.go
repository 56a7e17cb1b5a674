// Package api exposes the register/heartbeat request handlers over HTTP.
// Routing uses gorilla/mux.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"wgfleet/internal/fleet"
)

// Server hosts the fleet HTTP surface over net/http.
type Server struct {
	handler *fleet.Handler
	http    *http.Server
}

// New builds a Server listening on addr and dispatching to handler.
func New(addr string, handler *fleet.Handler) *Server {
	s := &Server{handler: handler}

	router := mux.NewRouter()
	router.HandleFunc("/fleet/{fleet}/register", s.handleRegister).Methods("POST")
	router.HandleFunc("/fleet/{fleet}/ping", s.handlePing).Methods("POST")

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	fleetName := mux.Vars(r)["fleet"]

	res, err := s.handler.Register(r.Context(), fleetName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"config": res.ConfigText,
	})
}

type pingRequest struct {
	Hostname string `json:"hostname"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	fleetName := mux.Vars(r)["fleet"]

	var body pingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"malformed request body"}`, http.StatusBadRequest)
			return
		}
	}

	sourceIP, ok := clientAddr(r)
	if !ok {
		http.Error(w, `{"error":"unparseable source address"}`, http.StatusForbidden)
		return
	}

	if err := s.handler.Heartbeat(fleetName, body.Hostname, sourceIP); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientAddr derives the caller's IPv6 address: the first entry of
// X-Forwarded-For if present, else the transport peer address.
func clientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		addr, err := netip.ParseAddr(first)
		if err != nil {
			return netip.Addr{}, false
		}
		return addr, true
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write json response", "err", err)
	}
}
