package domain

import (
	"context"

	"github.com/smallbiznis/milkrun/internal/billingerror"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type ListAuditLogRequest struct {
	Action     string
	TargetType string
	TargetID   string
	Limit      int
}

type Service interface {
	// AuditLog writes inside tx when non-nil so the entry commits with the
	// action it describes.
	AuditLog(ctx context.Context, tx *gorm.DB, action string, targetType string, targetID string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) ([]AuditLog, error)
}

var (
	ErrInvalidAction = billingerror.New(billingerror.ErrInvalidRequest, "invalid_action")
)
