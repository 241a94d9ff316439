package auth

import (
	"context"
	"fmt"

	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

// Quota limits how many documents a free-plan user may upload.
type Quota struct {
	Docs        db.DocumentRepo
	FreeUploads int
}

func (q *Quota) CheckUpload(ctx context.Context, p models.Principal) error {
	if p.PlanTier == models.PlanPro {
		return nil
	}
	n, err := q.Docs.CountDocumentsByOwner(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if n >= q.FreeUploads {
		return fmt.Errorf("%d of %d free uploads used: %w", n, q.FreeUploads, models.ErrQuotaExceeded)
	}
	return nil
}
