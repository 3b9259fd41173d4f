package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contractorvault/broker/internal/httpx"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/tokens"
	"github.com/contractorvault/broker/internal/server/trust"
)

func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label     string `json:"label"`
		TargetRef string `json:"target_ref"`
		Payload   string `json:"payload"` // base64
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_PAYLOAD", "payload must be base64")
		return
	}

	meta, err := s.broker.RegisterArtifact(r.Context(), actorFrom(r.Context()), req.Label, req.TargetRef, payload, httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.NewRequestID(),
		"artifact":   meta,
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	meta, err := s.broker.GetArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"artifact":   meta,
	})
}

func (s *Server) handleDeactivateArtifact(w http.ResponseWriter, r *http.Request) {
	err := s.broker.DeactivateArtifact(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID()})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArtifactID string `json:"artifact_id"`
		Recipient  string `json:"recipient"`
		TTLSeconds int64  `json:"ttl_seconds"`
		AllowedIP  string `json:"allowed_ip"`
		SingleUse  bool   `json:"single_use"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	grant, err := s.broker.IssueToken(r.Context(), req.ArtifactID, req.Recipient,
		time.Duration(req.TTLSeconds)*time.Second, req.AllowedIP, req.SingleUse,
		actorFrom(r.Context()), httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}

	// The secret appears in this response and nowhere else.
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.NewRequestID(),
		"token": map[string]any{
			"id":          grant.TokenID,
			"secret":      grant.Secret,
			"secret_hint": grant.SecretHint,
			"expires_at":  grant.ExpiresAt,
			"note":        "store the secret now; it is not retrievable again",
		},
	})
}

type tokenView struct {
	ID            string     `json:"id"`
	ArtifactID    string     `json:"artifact_id"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	SingleUse     bool       `json:"single_use"`
	UseCount      int64      `json:"use_count"`
	AllowedIP     string     `json:"allowed_ip,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedBy     string     `json:"revoked_by,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
}

func viewOf(t *tokens.Token, now time.Time) tokenView {
	return tokenView{
		ID:            t.ID,
		ArtifactID:    t.ArtifactID,
		Recipient:     t.Recipient,
		Status:        string(t.StatusAt(now)),
		SingleUse:     t.SingleUse,
		UseCount:      t.UseCount,
		AllowedIP:     t.AllowedIP,
		CreatedAt:     t.CreatedAt,
		ExpiresAt:     t.ExpiresAt,
		LastUsedAt:    t.LastUsedAt,
		RevokedAt:     t.RevokedAt,
		RevokedBy:     t.RevokedBy,
		RevokedReason: t.RevokedReason,
	}
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.broker.ListTokens(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}

	statusFilter := r.URL.Query().Get("status")
	now := s.broker.Now()
	views := make([]tokenView, 0, len(list))
	for _, t := range list {
		v := viewOf(t, now)
		if statusFilter != "" && v.Status != statusFilter {
			continue
		}
		views = append(views, v)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"tokens":     views,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	err := s.broker.Revoke(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason, httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.NewRequestID()})
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Reason    string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	n, err := s.broker.RevokeAll(r.Context(), req.Recipient, actorFrom(r.Context()), req.Reason, httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"revoked":    n,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string              `json:"token"`
		Device trust.DeviceContext `json:"device,omitempty"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	red, err := s.broker.Redeem(r.Context(), req.Token, httpx.ClientIP(r), req.Device)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"payload":    base64.StdEncoding.EncodeToString(red.Payload),
		"target_ref": red.TargetRef,
		"expires_at": red.ExpiresAt,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.broker.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":  result.Valid,
		"status": result.Status,
	})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Actor:  q.Get("actor"),
		Action: audit.Action(q.Get("action")),
		Target: q.Get("target"),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	return filter, nil
}

// handleAuditStream writes matching entries as NDJSON, one entry per
// line, so a full export never has to fit in memory.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_FILTER", err.Error())
		return
	}

	w.Header().Set("content-type", "application/x-ndjson")
	if err := audit.ExportNDJSON(r.Context(), s.auditRepo, filter, w); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		s.logger.Error(r.Context(), "audit stream aborted", "error", err.Error())
	}
}

func (s *Server) handleAuditArchive(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		httpx.WriteError(w, http.StatusNotImplemented, "NO_ARCHIVE", "audit archiving is not configured")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_FILTER", err.Error())
		return
	}

	key, err := s.archiver.Archive(r.Context(), filter, s.broker.Now())
	if err != nil {
		s.logger.Error(r.Context(), "audit archive failed", "error", err.Error())
		httpx.WriteError(w, http.StatusBadGateway, "ARCHIVE_FAILED", "could not upload archive")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"object_key": key,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", "recipient is required")
		return
	}

	devices, err := s.broker.ListDevices(r.Context(), recipient)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"devices":    devices,
	})
}

func (s *Server) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.broker.TrustDevice(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"device":     rec,
	})
}

func (s *Server) handleBlockDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	rec, err := s.broker.BlockDevice(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason, httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"device":     rec,
	})
}

func (s *Server) handleUnblockDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.broker.UnblockDevice(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), httpx.ClientIP(r))
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"device":     rec,
	})
}
