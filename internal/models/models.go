package models

import (
	"database/sql"
	"time"
)

// We use 'db' tags for sqlx to automatically map
// the database column names (snake_case) to our Go fields (CamelCase).

// DonationStatus is the lifecycle state of a donation record. Transitions
// happen only in the webhook handler; 'completed' is terminal.
type DonationStatus string

const (
	StatusPending   DonationStatus = "pending"
	StatusCompleted DonationStatus = "completed"
	StatusFailed    DonationStatus = "failed"
	StatusCancelled DonationStatus = "cancelled"
)

// User represents a staff member's authentication details.
type User struct {
	ID           int       `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// StaffProfile represents a staff member's dashboard profile. The widget
// secret token authenticates the live-alert overlay without a JWT.
type StaffProfile struct {
	ID                int       `db:"id"`
	UserID            int       `db:"user_id"`
	Username          string    `db:"username"`
	DisplayName       string    `db:"display_name"`
	WidgetSecretToken string    `db:"widget_secret_token"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Donation is the persisted record correlated with the gateway by Reference.
// The record, not the browser's return page, is the source of truth for the
// payment outcome.
type Donation struct {
	ID          int            `db:"id"`
	Reference   string         `db:"reference"`
	AmountCents int64          `db:"amount_cents"`
	DonorName   string         `db:"donor_name"`
	DonorEmail  string         `db:"donor_email"`
	DonorPhone  string         `db:"donor_phone"`
	Company     string         `db:"company"`
	Message     string         `db:"message"`
	Status      DonationStatus `db:"status"`
	GatewayTxID sql.NullString `db:"gateway_tx_id"`
	RawPayload  sql.NullString `db:"raw_payload"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}
