package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"schoolfund/internal/models"
)

var (
	// ErrNotFound means no donation exists for the reference. The webhook
	// handler rejects such notifications without creating a record.
	ErrNotFound = errors.New("store: donation not found")
)

// queryTimeout bounds every store call so a stalled database turns into a
// rejected notification (and a gateway retry) instead of a hung request.
const queryTimeout = 5 * time.Second

// Donations is the record store consumed by the handlers. Kept as an
// interface so handler tests can substitute an in-memory fake.
type Donations interface {
	CreatePending(ctx context.Context, d *models.Donation) (*models.Donation, error)
	FindByReference(ctx context.Context, ref string) (*models.Donation, error)
	// TransitionStatus applies the webhook state machine atomically. The
	// returned bool is true when this call changed the record; false means
	// the transition was a no-op (duplicate delivery or a terminal record).
	TransitionStatus(ctx context.Context, ref string, status models.DonationStatus, gatewayTxID, rawPayload string) (*models.Donation, bool, error)
	ListNewest(ctx context.Context, limit int) ([]models.Donation, error)
}

type DonationStore struct {
	DB *sqlx.DB
}

func NewDonationStore(db *sqlx.DB) *DonationStore {
	return &DonationStore{DB: db}
}

func (s *DonationStore) CreatePending(ctx context.Context, d *models.Donation) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO donations
		  (reference, amount_cents, donor_name, donor_email, donor_phone, company, message, status)
		VALUES
		  ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING *
	`
	var out models.Donation
	err := s.DB.GetContext(ctx, &out, query,
		d.Reference, d.AmountCents, d.DonorName, d.DonorEmail, d.DonorPhone, d.Company, d.Message,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *DonationStore) FindByReference(ctx context.Context, ref string) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var d models.Donation
	err := s.DB.GetContext(ctx, &d, `SELECT * FROM donations WHERE reference = $1`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// TransitionStatus is a single conditional UPDATE encoding the reconciliation
// rules: 'completed' is sticky and reachable from any non-terminal state
// (including a late success after 'failed'/'cancelled'), while 'failed' and
// 'cancelled' only ever replace 'pending'. One statement means concurrent
// duplicate deliveries for the same reference serialize on the row without
// any in-process lock.
func (s *DonationStore) TransitionStatus(ctx context.Context, ref string, status models.DonationStatus, gatewayTxID, rawPayload string) (*models.Donation, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE donations
		SET status = $2,
		    gateway_tx_id = COALESCE(NULLIF($3, ''), gateway_tx_id),
		    raw_payload = $4,
		    updated_at = now()
		WHERE reference = $1
		  AND (
		        ($2 = 'completed' AND status <> 'completed')
		     OR ($2 IN ('failed', 'cancelled') AND status = 'pending')
		  )
		RETURNING *
	`
	var d models.Donation
	err := s.DB.GetContext(ctx, &d, query, ref, status, gatewayTxID, rawPayload)
	if err == nil {
		return &d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// No row matched: either the reference is unknown or the transition is
	// a no-op (duplicate delivery, or a terminal record). Re-read to tell
	// the two apart.
	existing, err := s.FindByReference(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *DonationStore) ListNewest(ctx context.Context, limit int) ([]models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var donations []models.Donation
	err := s.DB.SelectContext(ctx, &donations,
		`SELECT * FROM donations ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return donations, nil
}
