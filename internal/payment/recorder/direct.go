package recorder

import (
	"context"

	"github.com/smallbiznis/folio/internal/payment/domain"
	"gorm.io/gorm"
)

const NameDirect = "direct"

// DirectRecorder inserts the audit record inline, on its own statement,
// after the ledger transaction has committed.
type DirectRecorder struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewDirectRecorder(db *gorm.DB, repo domain.Repository) *DirectRecorder {
	return &DirectRecorder{db: db, repo: repo}
}

func (r *DirectRecorder) Name() string { return NameDirect }

func (r *DirectRecorder) Record(ctx context.Context, payment domain.Payment) error {
	return r.repo.Insert(ctx, r.db, &payment)
}
