// Package server exposes the reconciliation invocation endpoint.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evroute/ruled/internal/ledger"
	"github.com/evroute/ruled/internal/reconcile"
	"github.com/evroute/ruled/internal/storage"
	"github.com/evroute/ruled/internal/storage/kv"
)

// Server is the HTTP server that receives reconciliation invocations.
type Server struct {
	addr       string
	reconciler *reconcile.Reconciler
	sessions   kv.Bucket
	rules      *storage.TypedStore[map[string]string]
	ledger     *ledger.Ledger
	httpServer *http.Server
}

// New creates a new invocation server.
func New(host string, port int, reconciler *reconcile.Reconciler, sessions kv.Bucket, rules *storage.TypedStore[map[string]string], l *ledger.Ledger) *Server {
	return &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		reconciler: reconciler,
		sessions:   sessions,
		rules:      rules,
		ledger:     l,
	}
}

// Run starts the invocation server. It blocks until the context is
// cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Info().Str("addr", s.addr).Msg("Starting invocation server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Invocation server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleInvoke runs one reconciliation invocation to completion or
// suspension and reports the convergence state.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req reconcile.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error().Err(err).Msg("Failed to decode invocation request")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	invocationID := r.Header.Get("X-Invocation-Id")
	if invocationID == "" {
		invocationID = uuid.NewString()
	}

	ruleName := s.ruleName(&req)
	digest := requestDigest(&req)

	logger := log.With().Str("invocation_id", invocationID).Str("rule", ruleName).Str("op", req.Op).Logger()

	// A re-delivered invocation that already converged is answered from
	// the converged props without touching the remote.
	if s.ledger.HasCompleted(invocationID) {
		logger.Info().Msg("Invocation already completed, returning converged state")
		props, _, _ := s.rules.Get(ruleName)
		writeJSON(w, &reconcile.Response{Props: props, Progress: 100, Done: true})
		return
	}

	// Resume from the stored snapshot when the caller did not pass the
	// resumption state back. A changed desired document supersedes the
	// in-flight reconciliation and discards its state.
	if req.PassBack == nil && ruleName != "" {
		if snap := s.loadSnapshot(ruleName); snap != nil {
			if snap.Digest == digest {
				logger.Debug().Msg("Resuming from stored session snapshot")
				req.PassBack = snap
			} else {
				logger.Debug().Msg("Stored session superseded by new desired state")
				s.sessions.Delete(ruleName)
			}
		}
	}

	s.ledger.Append(ledger.EventReconcileStarted, invocationID, ruleName, map[string]any{"op": req.Op})

	resp := s.reconciler.Reconcile(r.Context(), &req)

	switch {
	case resp.Error != nil:
		logger.Error().Str("code", resp.Error.Code).Str("message", resp.Error.Message).Msg("Reconciliation permanently failed")
		s.sessions.Delete(ruleName)
		s.ledger.Append(ledger.EventReconcileFailed, invocationID, ruleName, map[string]any{
			"code":    resp.Error.Code,
			"message": resp.Error.Message,
		})

	case !resp.Done:
		marker := ""
		if resp.PassBack != nil && resp.PassBack.Retry != nil {
			marker = resp.PassBack.Retry.Marker
		}
		logger.Info().Str("marker", marker).Int("progress", resp.Progress).Msg("Reconciliation suspended for retry")
		s.storeSnapshot(ruleName, digest, resp.PassBack)
		s.ledger.Append(ledger.EventReconcileRetry, invocationID, ruleName, map[string]any{
			"marker":   marker,
			"progress": resp.Progress,
		})

	default:
		logger.Info().Msg("Reconciliation converged")
		s.sessions.Delete(ruleName)
		if req.Op == reconcile.OpDeleteRule {
			s.rules.Delete(ruleName)
		} else if len(resp.Props) > 0 {
			s.rules.Set(ruleName, resp.Props)
		}
		s.ledger.Append(ledger.EventReconcileCompleted, invocationID, ruleName, map[string]any{"props": resp.Props})
	}

	writeJSON(w, resp)
}

// ruleName resolves the rule identity an invocation concerns.
func (s *Server) ruleName(req *reconcile.Request) string {
	if req.ComponentDef != nil && req.ComponentDef.Name != "" {
		return req.ComponentDef.Name
	}
	return req.PrevState.Props["name"]
}

func (s *Server) loadSnapshot(ruleName string) *reconcile.Snapshot {
	data, err := s.sessions.Get(ruleName)
	if err != nil || data == nil {
		return nil
	}

	var snap reconcile.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("rule", ruleName).Msg("Discarding unreadable session snapshot")
		s.sessions.Delete(ruleName)
		return nil
	}
	return &snap
}

func (s *Server) storeSnapshot(ruleName, digest string, snap *reconcile.Snapshot) {
	if snap == nil || ruleName == "" {
		return
	}
	snap.Digest = digest

	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("rule", ruleName).Msg("Failed to marshal session snapshot")
		return
	}
	if err := s.sessions.Put(ruleName, data); err != nil {
		log.Error().Err(err).Str("rule", ruleName).Msg("Failed to store session snapshot")
	}
}

// requestDigest fingerprints the desired document so a resumed session
// can be tied to the exact desired state it was computed from.
func requestDigest(req *reconcile.Request) string {
	def, _ := json.Marshal(req.ComponentDef)
	sum := sha256.Sum256(append([]byte(req.Op+"\n"), def...))
	return hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
