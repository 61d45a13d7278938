package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"unievents-checkin/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("token.codec", fx.Provide(ProvideCodec))

// ErrorKind classifies why a token failed verification.
type ErrorKind string

const (
	KindMalformed    ErrorKind = "MALFORMED"
	KindBadSignature ErrorKind = "BAD_SIGNATURE"
	KindExpired      ErrorKind = "EXPIRED"
)

type VerificationError struct {
	Kind ErrorKind
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token verification failed [%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("token verification failed [%s]", e.Kind)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Payload is the signed content of a QR token. Event-wide tokens carry
// eventId; per-ticket tokens carry ticketId and userId.
type Payload struct {
	EventID   string `json:"eventId,omitempty"`
	TicketID  string `json:"ticketId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
	Nonce     string `json:"nonce"`
}

// Envelope is the wire form rendered into QR images: the payload plus an
// hex HMAC-SHA256 signature over its canonical serialization.
type Envelope struct {
	Payload
	Signature string `json:"signature"`
}

// Codec mints and verifies signed, time-bounded tokens. There is no
// server-side token table: expiry plus the check-in uniqueness constraint
// bound what a replayed token is worth.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

func ProvideCodec(cfg *config.Config) *Codec {
	return NewCodec(cfg.Token.Secret)
}

// Mint stamps the payload with issuedAt/expiresAt and a fresh nonce, signs
// it, and returns the base64 wire token.
func (c *Codec) Mint(p Payload, ttl time.Duration) (string, *Envelope, error) {
	issued := c.now().UTC()
	p.IssuedAt = issued.Unix()
	p.ExpiresAt = issued.Add(ttl).Unix()

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", nil, fmt.Errorf("generate nonce: %w", err)
	}
	p.Nonce = hex.EncodeToString(nonce)

	env := &Envelope{Payload: p, Signature: c.sign(p)}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", nil, fmt.Errorf("marshal token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), env, nil
}

// Verify accepts either the base64 wire token or the JSON envelope a
// scanner client decoded out of the QR image.
func (c *Codec) Verify(raw string) (*Payload, error) {
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 {
		return nil, &VerificationError{Kind: KindMalformed}
	}

	if data[0] != '{' {
		decoded, err := base64.RawURLEncoding.DecodeString(string(data))
		if err != nil {
			if decoded, err = base64.StdEncoding.DecodeString(string(data)); err != nil {
				return nil, &VerificationError{Kind: KindMalformed, Err: err}
			}
		}
		data = decoded
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &VerificationError{Kind: KindMalformed, Err: err}
	}
	if env.Signature == "" || env.Nonce == "" {
		return nil, &VerificationError{Kind: KindMalformed}
	}

	expected := c.sign(env.Payload)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return nil, &VerificationError{Kind: KindBadSignature}
	}

	if c.now().UTC().Unix() > env.ExpiresAt {
		return nil, &VerificationError{Kind: KindExpired}
	}

	p := env.Payload
	return &p, nil
}

func (c *Codec) sign(p Payload) string {
	fields := map[string]string{
		"event_id":   p.EventID,
		"ticket_id":  p.TicketID,
		"user_id":    p.UserID,
		"issued_at":  fmt.Sprintf("%d", p.IssuedAt),
		"expires_at": fmt.Sprintf("%d", p.ExpiresAt),
		"nonce":      p.Nonce,
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
