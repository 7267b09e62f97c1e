package fetcher

import "time"

// AttributeKey identifies a value in an exchange's attribute bag.
type AttributeKey string

// Well-known attribute keys.
const (
	// AttrIgnoreAuthorization skips attaching the bearer credential.
	AttrIgnoreAuthorization AttributeKey = "fetcher.ignore_authorization"
	// AttrIgnoreRefresh disables refresh-and-replay on a 401.
	AttrIgnoreRefresh AttributeKey = "fetcher.ignore_refresh"
	// AttrSkipStatusValidation accepts any response status.
	AttrSkipStatusValidation AttributeKey = "fetcher.skip_status_validation"
	// AttrReplayed is set once the request was replayed after a refresh.
	AttrReplayed AttributeKey = "fetcher.replayed"
	// AttrStartTime records when the exchange was handed to the transport.
	AttrStartTime AttributeKey = "fetcher.start_time"
	// AttrSpan holds the telemetry span of the exchange.
	AttrSpan AttributeKey = "fetcher.span"
)

// Attributes is a per-exchange bag of values shared between interceptors.
type Attributes map[AttributeKey]any

// Set stores value under key.
func (a Attributes) Set(key AttributeKey, value any) {
	a[key] = value
}

// Get returns the value stored under key.
func (a Attributes) Get(key AttributeKey) (any, bool) {
	v, ok := a[key]

	return v, ok
}

// Has reports whether key is present.
func (a Attributes) Has(key AttributeKey) bool {
	_, ok := a[key]

	return ok
}

// Delete removes key.
func (a Attributes) Delete(key AttributeKey) {
	delete(a, key)
}

// Bool returns the boolean stored under key, false when absent or not a bool.
func (a Attributes) Bool(key AttributeKey) bool {
	v, _ := a[key].(bool)

	return v
}

// String returns the string stored under key.
func (a Attributes) String(key AttributeKey) string {
	v, _ := a[key].(string)

	return v
}

// Time returns the time stored under key.
func (a Attributes) Time(key AttributeKey) (time.Time, bool) {
	v, ok := a[key].(time.Time)

	return v, ok
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}

	return out
}
