// Package webhook implements the inbound webhook intake (§4.L): a single
// HTTP endpoint, POST /receive/<token>, that authenticates a delivery by
// HMAC signature, logs an audit row, and enqueues a sync job.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/queue"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

const (
	signatureHeaderPrimary = "X-Hub-Signature-256"
	signatureHeaderAlias   = "X-Webhook-Signature"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Store storage.Store
	Queue *queue.Queue
}

// Server serves the webhook receive endpoint over HTTP.
type Server struct {
	store storage.Store
	queue *queue.Queue
	log   *applog.Logger
	http  *http.Server
	mux   *http.ServeMux
}

// NewServer constructs a Server. Call Start to begin serving.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		store: cfg.Store,
		queue: cfg.Queue,
		log:   applog.New("webhook"),
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("/receive/", s.handleReceive)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Handler returns the server's http.Handler, useful for tests and for
// embedding under another router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReceive implements §4.L/§6: look up the webhook by token, reject
// inactive, verify the HMAC signature, log a delivery row, and on success
// enqueue a sync job.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/receive/")
	token = strings.Trim(token, "/")
	if token == "" {
		http.Error(w, "missing token", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	hook, err := s.store.GetWebhookByToken(ctx, token)
	if err != nil {
		if errors.Is(err, synerr.ErrNotFound) {
			http.Error(w, "unknown webhook", http.StatusNotFound)
			return
		}
		s.log.Error("lookup webhook: " + err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !hook.Active {
		http.Error(w, "webhook inactive", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("read webhook body: " + err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	header := r.Header.Get(signatureHeaderPrimary)
	if header == "" {
		header = r.Header.Get(signatureHeaderAlias)
	}
	valid := header != "" && crypto.VerifyWebhook(body, []byte(hook.Secret), header)

	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	delivery := &types.WebhookDelivery{
		WebhookID:      hook.ID,
		ReceivedAt:     time.Now().UTC(),
		Headers:        headers,
		Payload:        string(body),
		SignatureValid: valid,
	}

	if !valid {
		delivery.Status = types.DeliveryRejected
		if err := s.store.RecordWebhookDelivery(ctx, hook, delivery); err != nil {
			s.log.Error("record rejected delivery: " + err.Error())
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	job, err := s.queue.Add(hook.SyncConfigID, types.JobOptions{}, types.ExecTriggerWebhook, 0)
	if err != nil {
		delivery.Status = types.DeliveryRejected
		if recErr := s.store.RecordWebhookDelivery(ctx, hook, delivery); recErr != nil {
			s.log.Error("record failed delivery: " + recErr.Error())
		}
		s.log.Error("enqueue job for webhook " + hook.ID + ": " + err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	delivery.Status = types.DeliveryAccepted
	delivery.JobID = job.ID
	now := time.Now().UTC()
	hook.TriggerCount++
	hook.LastTriggeredAt = &now
	if err := s.store.RecordWebhookDelivery(ctx, hook, delivery); err != nil {
		s.log.Error("record accepted delivery: " + err.Error())
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"jobId": job.ID})
}
