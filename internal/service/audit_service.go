package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
)

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditMeta carries request details recorded alongside an audit entry.
type AuditMeta struct {
	IP        string
	UserAgent string
}

// AuditService writes audit entries on a best effort basis: failures are
// logged and never surface to the caller.
type AuditService struct {
	repo   auditRepository
	logger *zap.Logger
}

// NewAuditService constructs the service. A nil repository disables persistence.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record stores an audit entry. values is marshalled to JSON when non-nil.
func (s *AuditService) Record(ctx context.Context, userID *string, action, resource string, resourceID *string, values interface{}, meta AuditMeta) {
	if s == nil || s.repo == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if values != nil {
		if raw, err := json.Marshal(values); err == nil {
			payload := string(raw)
			entry.NewValues = &payload
		}
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}
