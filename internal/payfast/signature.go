package payfast

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
)

// Field is a single name/value pair destined for, or received from, the
// gateway. Order matters: PayFast signs fields in the order they appear in
// the request body, not alphabetically, so we carry them as a slice instead
// of a map.
type Field struct {
	Name  string
	Value string
}

// FieldSet is an ordered collection of fields.
type FieldSet []Field

// Get returns the value of the first field with the given name, or "".
func (fs FieldSet) Get(name string) string {
	for _, f := range fs {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// WithoutSignature returns a copy of the set with any 'signature' field
// removed, preserving order. Used when recomputing the expected signature
// of an inbound notification.
func (fs FieldSet) WithoutSignature() FieldSet {
	out := make(FieldSet, 0, len(fs))
	for _, f := range fs {
		if f.Name == "signature" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// encode applies the gateway's value encoding: form encoding with spaces as
// '+' and uppercase percent escapes, which url.QueryEscape matches.
func encode(s string) string {
	return url.QueryEscape(s)
}

// Canonicalize builds the gateway's signing string: url-encoded name=value
// pairs joined by '&' in field order, with the passphrase appended last when
// one is configured. The passphrase itself never leaves the server.
func Canonicalize(fields FieldSet, passphrase string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(encode(f.Value))
	}
	if passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(encode(passphrase))
	}
	return b.String()
}

// Sign returns the lowercase hex MD5 of the canonical string. MD5 is the
// gateway's documented algorithm, not our choice.
func Sign(fields FieldSet, passphrase string) string {
	sum := md5.Sum([]byte(Canonicalize(fields, passphrase)))
	return hex.EncodeToString(sum[:])
}

// VerifySignature recomputes the signature over the received fields (minus
// the signature field itself, in received order) and compares it to the
// supplied one in constant time.
func VerifySignature(fields FieldSet, passphrase string) bool {
	supplied := fields.Get("signature")
	if supplied == "" {
		return false
	}
	expected := Sign(fields.WithoutSignature(), passphrase)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(supplied))) == 1
}

// ParseFields decodes a form-encoded body into an ordered FieldSet. The
// standard library's url.ParseQuery returns a map and loses ordering, which
// would break signature verification, so we split by hand.
func ParseFields(rawBody string) (FieldSet, error) {
	var fields FieldSet
	for _, pair := range strings.Split(rawBody, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		decName, err := url.QueryUnescape(name)
		if err != nil {
			return nil, err
		}
		decValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: decName, Value: decValue})
	}
	return fields, nil
}
