package notify

import (
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"schoolfund/internal/models"
	"schoolfund/internal/payfast"
)

// Dispatcher delivers the donor-facing confirmation after a donation
// completes. Delivery is best-effort: a failure is logged and never blocks
// the webhook acknowledgment or rolls back the status transition.
type Dispatcher interface {
	NotifyDonor(d *models.Donation)
}

// SendgridDispatcher sends the confirmation through Sendgrid's v3 mail API.
type SendgridDispatcher struct {
	key  string
	from *sgmail.Email
}

var _ Dispatcher = (*SendgridDispatcher)(nil)

func NewSendgridDispatcher(apiKey, fromEmail string) *SendgridDispatcher {
	return &SendgridDispatcher{
		key:  apiKey,
		from: sgmail.NewEmail("School Fund", fromEmail),
	}
}

func (s *SendgridDispatcher) NotifyDonor(d *models.Donation) {
	if d.DonorEmail == "" {
		return
	}
	go func() {
		subject := "Thank you for your donation " + d.Reference
		body := fmt.Sprintf(
			"Dear %s,\n\nWe received your donation of R%s (reference %s). Thank you for supporting the school.\n",
			d.DonorName, payfast.FormatAmount(d.AmountCents), d.Reference,
		)
		to := sgmail.NewEmail(d.DonorName, d.DonorEmail)
		msg := sgmail.NewSingleEmail(s.from, subject, to, body, "")

		resp, err := sendgrid.NewSendClient(s.key).Send(msg)
		if err != nil {
			log.Println("Failed to send donation confirmation:", err)
			return
		}
		if resp.StatusCode >= 300 {
			log.Printf("Sendgrid rejected donation confirmation for %s: %d %s", d.Reference, resp.StatusCode, resp.Body)
		}
	}()
}

// ConsoleDispatcher logs instead of sending; used in dev and in tests.
type ConsoleDispatcher struct{}

var _ Dispatcher = ConsoleDispatcher{}

func (ConsoleDispatcher) NotifyDonor(d *models.Donation) {
	log.Printf("Donation confirmation for %s <%s>: R%s (%s)",
		d.DonorName, d.DonorEmail, payfast.FormatAmount(d.AmountCents), d.Reference)
}
