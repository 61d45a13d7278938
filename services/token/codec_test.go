package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	codec := NewCodec("test-secret")

	raw, env, err := codec.Mint(Payload{EventID: "evt-1"}, 30*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotEmpty(t, env.Nonce)
	require.NotEmpty(t, env.Signature)
	require.Equal(t, env.IssuedAt+30, env.ExpiresAt)

	p, err := codec.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "evt-1", p.EventID)
	require.Equal(t, env.Nonce, p.Nonce)
}

func TestVerifyAcceptsDecodedJSON(t *testing.T) {
	codec := NewCodec("test-secret")

	raw, _, err := codec.Mint(Payload{TicketID: "tkt-1", UserID: "usr-1"}, 5*time.Minute)
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)

	p, err := codec.Verify(string(decoded))
	require.NoError(t, err)
	require.Equal(t, "tkt-1", p.TicketID)
	require.Equal(t, "usr-1", p.UserID)
}

func TestVerifyExpired(t *testing.T) {
	codec := NewCodec("test-secret")

	raw, _, err := codec.Mint(Payload{EventID: "evt-1"}, 30*time.Second)
	require.NoError(t, err)

	codec.now = func() time.Time { return time.Now().Add(time.Minute) }

	_, err = codec.Verify(raw)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindExpired, verr.Kind)
}

func TestVerifyTamperedPayload(t *testing.T) {
	codec := NewCodec("test-secret")

	raw, _, err := codec.Mint(Payload{EventID: "evt-1"}, 30*time.Second)
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(decoded, &env))
	env.EventID = "evt-2"

	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = codec.Verify(string(tampered))
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadSignature, verr.Kind)
}

func TestVerifyWrongSecret(t *testing.T) {
	minter := NewCodec("secret-a")
	verifier := NewCodec("secret-b")

	raw, _, err := minter.Mint(Payload{EventID: "evt-1"}, 30*time.Second)
	require.NoError(t, err)

	_, err = verifier.Verify(raw)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadSignature, verr.Kind)
}

func TestVerifyMalformed(t *testing.T) {
	codec := NewCodec("test-secret")

	for _, raw := range []string{
		"",
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("plain text")),
		`{"eventId":"evt-1"}`,
	} {
		_, err := codec.Verify(raw)
		var verr *VerificationError
		require.True(t, errors.As(err, &verr), "input %q", raw)
		require.Equal(t, KindMalformed, verr.Kind, "input %q", raw)
	}
}
