package config

// SecretString keeps credentials such as DATABASE_URL or the API key hash out
// of logs and JSON output. Use Unmask to read the raw value.
type SecretString string

const redacted = "***REDACTED***"

// String implements fmt.Stringer.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON implements json.Marshaler.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
