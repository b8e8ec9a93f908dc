package payfast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeEncoding(t *testing.T) {
	fields := FieldSet{
		{"name_first", "Jane"},
		{"item_name", "School donation YE-1001"},
		{"email_address", "a@b.com"},
	}

	got := Canonicalize(fields, "")
	assert.Equal(t, "name_first=Jane&item_name=School+donation+YE-1001&email_address=a%40b.com", got)
}

func TestCanonicalizeAppendsPassphraseLast(t *testing.T) {
	fields := FieldSet{{"m_payment_id", "YE-1001"}}

	got := Canonicalize(fields, "secret pass")
	assert.Equal(t, "m_payment_id=YE-1001&passphrase=secret+pass", got)
}

func TestCanonicalizeUppercaseEscapes(t *testing.T) {
	got := Canonicalize(FieldSet{{"item_description", "50/50 split: books & sport"}}, "")
	assert.Equal(t, "item_description=50%2F50+split%3A+books+%26+sport", got)
}

func TestSignIsOrderSensitive(t *testing.T) {
	a := FieldSet{{"m_payment_id", "YE-1001"}, {"amount", "100.00"}}
	b := FieldSet{{"amount", "100.00"}, {"m_payment_id", "YE-1001"}}

	assert.NotEqual(t, Sign(a, "pass"), Sign(b, "pass"))
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	fields := FieldSet{
		{"m_payment_id", "YE-1001"},
		{"pf_payment_id", "PF123"},
		{"payment_status", "COMPLETE"},
		{"amount_gross", "100.00"},
	}
	signed := append(fields, Field{"signature", Sign(fields, "pass")})

	assert.True(t, VerifySignature(signed, "pass"))
}

func TestVerifySignatureRejectsTamper(t *testing.T) {
	fields := FieldSet{
		{"m_payment_id", "YE-1001"},
		{"payment_status", "FAILED"},
	}
	signed := append(fields, Field{"signature", Sign(fields, "pass")})

	// Flip the status after signing.
	tampered := make(FieldSet, len(signed))
	copy(tampered, signed)
	tampered[1].Value = "COMPLETE"

	assert.False(t, VerifySignature(tampered, "pass"))
}

func TestVerifySignatureRejectsWrongPassphrase(t *testing.T) {
	fields := FieldSet{{"m_payment_id", "YE-1001"}}
	signed := append(fields, Field{"signature", Sign(fields, "pass")})

	assert.False(t, VerifySignature(signed, "other"))
}

func TestVerifySignatureRejectsMissingSignature(t *testing.T) {
	assert.False(t, VerifySignature(FieldSet{{"m_payment_id", "YE-1001"}}, "pass"))
}

func TestParseFieldsPreservesOrderAndValues(t *testing.T) {
	body := "m_payment_id=YE-1001&name_first=Jane&item_name=School+donation+YE-1001&email_address=a%40b.com"

	fields, err := ParseFields(body)
	require.NoError(t, err)
	require.Len(t, fields, 4)
	assert.Equal(t, Field{"m_payment_id", "YE-1001"}, fields[0])
	assert.Equal(t, Field{"name_first", "Jane"}, fields[1])
	assert.Equal(t, Field{"item_name", "School donation YE-1001"}, fields[2])
	assert.Equal(t, Field{"email_address", "a@b.com"}, fields[3])
}

func TestParseFieldsCanonicalizeRoundTrip(t *testing.T) {
	original := FieldSet{
		{"name_first", "Jane"},
		{"name_last", "Doe"},
		{"item_description", "Donation YE-1001 to the school fund"},
		{"email_address", "a@b.com"},
	}

	decoded, err := ParseFields(Canonicalize(original, ""))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestWithoutSignature(t *testing.T) {
	fields := FieldSet{
		{"m_payment_id", "YE-1001"},
		{"signature", "deadbeef"},
		{"amount", "100.00"},
	}

	got := fields.WithoutSignature()
	assert.Equal(t, FieldSet{{"m_payment_id", "YE-1001"}, {"amount", "100.00"}}, got)
}
