package payfast

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"schoolfund/internal/models"
)

// Gateway payment_status values carried in the ITN body.
const (
	StatusComplete  = "COMPLETE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Notification is a parsed inbound ITN callback. Fields keeps the raw
// ordered pairs so the signature can be re-verified after parsing.
type Notification struct {
	Reference     string // m_payment_id, our reference number
	GatewayTxID   string // pf_payment_id
	PaymentStatus string
	AmountGross   string
	AmountFee     string
	AmountNet     string
	Custom        [5]string // custom_str1..custom_str5
	Fields        FieldSet
	RawBody       string
}

// ParseNotification decodes the raw form body, preserving field order.
func ParseNotification(rawBody string) (*Notification, error) {
	fields, err := ParseFields(rawBody)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		Reference:     fields.Get("m_payment_id"),
		GatewayTxID:   fields.Get("pf_payment_id"),
		PaymentStatus: fields.Get("payment_status"),
		AmountGross:   fields.Get("amount_gross"),
		AmountFee:     fields.Get("amount_fee"),
		AmountNet:     fields.Get("amount_net"),
		Fields:        fields,
		RawBody:       rawBody,
	}
	for i := range n.Custom {
		n.Custom[i] = fields.Get(fmt.Sprintf("custom_str%d", i+1))
	}
	return n, nil
}

// Verify recomputes the notification's signature with the shared passphrase.
func (n *Notification) Verify(passphrase string) bool {
	return VerifySignature(n.Fields, passphrase)
}

// Status maps the gateway's payment_status to a donation status. The second
// return is false for statuses we do not recognize; those are logged and
// acknowledged without any transition.
func (n *Notification) Status() (models.DonationStatus, bool) {
	switch n.PaymentStatus {
	case StatusComplete:
		return models.StatusCompleted, true
	case StatusFailed:
		return models.StatusFailed, true
	case StatusCancelled:
		return models.StatusCancelled, true
	default:
		return "", false
	}
}

// SourceValidator is the optional defense-in-depth check: confirm the
// notification really came from the gateway by resolving its published hosts
// and replaying the fields to its validation endpoint. It is additive to the
// signature check, never a substitute.
type SourceValidator struct {
	BaseURL string
	Client  *http.Client
	Hosts   []string
}

func NewSourceValidator(baseURL string) *SourceValidator {
	return &SourceValidator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
		Hosts: []string{
			"www.payfast.co.za",
			"sandbox.payfast.co.za",
			"w1w.payfast.co.za",
			"w2w.payfast.co.za",
		},
	}
}

// ValidOrigin reports whether remoteAddr resolves to one of the gateway's
// published hosts.
func (v *SourceValidator) ValidOrigin(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	remote := net.ParseIP(host)
	if remote == nil {
		return false
	}
	for _, h := range v.Hosts {
		ips, err := net.LookupIP(h)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			if ip.Equal(remote) {
				return true
			}
		}
	}
	return false
}

// Confirm posts the received fields back to the gateway's validate endpoint
// and expects the literal response VALID.
func (v *SourceValidator) Confirm(ctx context.Context, n *Notification) error {
	body := Canonicalize(n.Fields.WithoutSignature(), "")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/eng/query/validate", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(string(b)), "VALID") {
		return fmt.Errorf("payfast: gateway did not confirm notification: %q", string(b))
	}
	return nil
}
