package ci

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TokenType is the token_type field of an OAuth2 token response. Every
// endpoint this package calls accepts a bearer token, but the field is
// decoded faithfully rather than assumed.
type TokenType struct {
	// Other holds the raw value when it isn't "bearer".
	Other string
}

// IsBearer reports whether the token response declared itself a bearer
// token, Concourse's default and the only kind this package sends onward.
func (t TokenType) IsBearer() bool {
	return t.Other == ""
}

func (t TokenType) String() string {
	if t.IsBearer() {
		return "bearer"
	}
	return t.Other
}

// UnmarshalJSON treats "bearer" as the zero value and preserves anything
// else verbatim, mirroring the upstream token type's open-ended nature.
func (t *TokenType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("ci: token_type: %w", err)
	}
	if s == "bearer" {
		t.Other = ""
	} else {
		t.Other = s
	}
	return nil
}

// Token is the response body of Concourse's password-credentials grant.
type Token struct {
	AccessToken Secret        `json:"-"`
	ExpiresIn   time.Duration `json:"-"`
	IDToken     string        `json:"id_token"`
	TokenType   TokenType     `json:"token_type"`

	// acquiredAt records when this token was decoded, used by [Token.Expired]
	// to compute remaining lifetime without a server round-trip.
	acquiredAt time.Time
}

// tokenWire is the literal wire shape of a token response: access_token is a
// JSON string, and expires_in must be a whole-number count of seconds, never
// a string or a float — callers with a Concourse that ever sends either
// would rather fail loudly than cache a bogus expiry.
type tokenWire struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
	IDToken     string          `json:"id_token"`
	TokenType   TokenType       `json:"token_type"`
}

// UnmarshalJSON decodes a token response, rejecting a non-integer
// expires_in instead of silently truncating it.
func (t *Token) UnmarshalJSON(data []byte) error {
	var wire tokenWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("ci: decode token: %w", err)
	}

	// json.Number also accepts a quoted number, so a string is rejected here
	// before decoding.
	if raw := bytes.TrimSpace(wire.ExpiresIn); len(raw) > 0 && raw[0] == '"' {
		return fmt.Errorf("ci: expires_in %s is a string, not a number of seconds", raw)
	}
	dec := json.NewDecoder(bytes.NewReader(wire.ExpiresIn))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err != nil {
		return fmt.Errorf("ci: expires_in: %w", err)
	}
	secs, err := num.Int64()
	if err != nil {
		return fmt.Errorf("ci: expires_in %q is not a whole number of seconds: %w", num.String(), err)
	}
	if secs < 0 {
		return fmt.Errorf("ci: expires_in %d is negative", secs)
	}

	t.AccessToken = Secret(wire.AccessToken)
	t.ExpiresIn = time.Duration(secs) * time.Second
	t.IDToken = wire.IDToken
	t.TokenType = wire.TokenType
	t.acquiredAt = time.Now()
	return nil
}

// expirySkew is subtracted from a token's lifetime so a refresh happens
// slightly before the server would actually reject the old token.
const expirySkew = 10 * time.Second

// Expired reports whether this token should be refreshed before use.
func (t *Token) Expired() bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	return time.Since(t.acquiredAt) >= t.ExpiresIn-expirySkew
}
