package types

import "log/slog"

// secretMask replaces secret values wherever they would otherwise be printed.
const secretMask = "***REDACTED***"

// SecretString holds a sensitive value (gateway keys, webhook secrets, the
// database URL) and masks it in every rendering path: fmt verbs via Stringer,
// JSON encoding, and slog attributes. Only Unmask returns the plaintext.
type SecretString string

// String implements fmt.Stringer with the mask.
func (s SecretString) String() string {
	return secretMask
}

// MarshalJSON encodes the mask, never the value. Config dumps and API
// responses stay safe even when a SecretString field slips into one.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + secretMask + `"`), nil
}

// LogValue implements slog.LogValuer so structured log output masks the
// value without relying on callers remembering to.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(secretMask)
}

// Unmask returns the plaintext. Call sites are the audit surface: HTTP
// Authorization headers, webhook signature checks, and the pool DSN.
func (s SecretString) Unmask() string {
	return string(s)
}
