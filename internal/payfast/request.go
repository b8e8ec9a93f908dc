package payfast

import (
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strconv"
	"strings"
)

var ErrMissingCredentials = errors.New("payfast: merchant_id and merchant_key are not configured")

// ValidationError reports a rejected donation intent. Nothing is sent to the
// gateway when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "payfast: invalid intent: " + e.Field + " " + e.Reason
}

// DonationIntent is the ephemeral input to the Request Builder, owned by the
// donor-facing form until it lands here.
type DonationIntent struct {
	Reference   string
	AmountCents int64
	DonorName   string
	DonorEmail  string
	DonorPhone  string
	Company     string
	Message     string
	DonationID  int
}

// Builder constructs signed payment requests. Construct one at startup via
// NewBuilder so missing merchant credentials fail before any donor reaches
// the payment flow.
type Builder struct {
	merchantID  string
	merchantKey string
	passphrase  string
	baseURL     string
	origin      string
}

func NewBuilder(merchantID, merchantKey, passphrase, baseURL, origin string) (*Builder, error) {
	if merchantID == "" || merchantKey == "" {
		return nil, ErrMissingCredentials
	}
	return &Builder{
		merchantID:  merchantID,
		merchantKey: merchantKey,
		passphrase:  passphrase,
		baseURL:     strings.TrimRight(baseURL, "/"),
		origin:      strings.TrimRight(origin, "/"),
	}, nil
}

// ProcessURL is the gateway endpoint the auto-submit form posts to.
func (b *Builder) ProcessURL() string {
	return b.baseURL + "/eng/process"
}

// BuildPaymentRequest validates the intent and produces the signed field set
// in the gateway's documented order. Empty optional fields are dropped before
// signing; the gateway's check is sensitive to exact field presence.
func (b *Builder) BuildPaymentRequest(intent DonationIntent) (FieldSet, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}

	first, last := splitName(intent.DonorName)

	fields := FieldSet{
		{"merchant_id", b.merchantID},
		{"merchant_key", b.merchantKey},
		{"return_url", b.origin + "/donate/thanks?ref=" + intent.Reference},
		{"cancel_url", b.origin + "/donate/cancelled?ref=" + intent.Reference},
		{"notify_url", b.origin + "/api/webhook/payfast"},
		{"name_first", first},
		{"name_last", last},
		{"email_address", intent.DonorEmail},
		{"cell_number", intent.DonorPhone},
		{"m_payment_id", intent.Reference},
		{"amount", FormatAmount(intent.AmountCents)},
		{"item_name", "School donation " + intent.Reference},
		{"item_description", "Donation " + intent.Reference + " to the school fund"},
		{"custom_str1", strconv.Itoa(intent.DonationID)},
		{"custom_str2", intent.Company},
		{"custom_str3", intent.Message},
	}

	present := make(FieldSet, 0, len(fields)+1)
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		present = append(present, f)
	}

	present = append(present, Field{"signature", Sign(present, b.passphrase)})
	return present, nil
}

func validateIntent(intent DonationIntent) error {
	if intent.AmountCents <= 0 {
		return &ValidationError{"amount", "must be positive"}
	}
	if intent.Reference == "" {
		return &ValidationError{"reference", "is required"}
	}
	if intent.DonorEmail != "" {
		if _, err := mail.ParseAddress(intent.DonorEmail); err != nil {
			return &ValidationError{"email", "is not a valid address"}
		}
	}
	return nil
}

// splitName tokenizes a full name into the gateway's first/last fields:
// first whitespace-delimited token, then the remainder. An empty name gets
// a placeholder so the required field is never blank.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Supporter", ""
	}
	first, last, found := strings.Cut(name, " ")
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(last)
}

// FormatAmount renders whole cents as the gateway's two-decimal string.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// RedirectHTML renders the auto-submitting hidden form that navigates the
// browser to the gateway's hosted payment page. Fire-and-forget: the gateway
// renders whatever comes next.
func (b *Builder) RedirectHTML(fields FieldSet) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><head><title>Redirecting to payment...</title></head><body>")
	sb.WriteString(`<form id="payfast" method="post" action="` + html.EscapeString(b.ProcessURL()) + `">`)
	for _, f := range fields {
		sb.WriteString(`<input type="hidden" name="` + html.EscapeString(f.Name) + `" value="` + html.EscapeString(f.Value) + `">`)
	}
	sb.WriteString("</form>")
	sb.WriteString("<script>document.getElementById('payfast').submit();</script>")
	sb.WriteString("</body></html>")
	return sb.String()
}
