package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func TestJWKSToPEMRoundTripsECKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	doc, err := json.Marshal(JWKS{Keys: []JWK{
		{Kty: "EC", Kid: "old", Crv: "P-256", X: "AA", Y: "AA", Use: "sig"},
		{Kty: "EC", Kid: "current", Crv: "P-256", X: b64(priv.X.Bytes()), Y: b64(priv.Y.Bytes()), Alg: "ES256", Use: "sig"},
	}})
	require.NoError(t, err)

	out, err := JWKSToPEM(doc, "current")
	require.NoError(t, err)
	parsed, err := ParseECDSAPublicKey(out)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))
}

func TestJWKToPEMRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	out, err := JWKToPEM(JWK{Kty: "RSA", N: b64(priv.N.Bytes()), E: b64(big.NewInt(int64(priv.E)).Bytes())})
	require.NoError(t, err)
	parsed, err := ParseRSAPublicKey(out)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))
}

func TestJWKSToPEMErrors(t *testing.T) {
	_, err := JWKSToPEM([]byte("{"), "")
	assert.Error(t, err)

	_, err = JWKSToPEM([]byte(`{"keys":[{"kty":"EC","use":"enc"}]}`), "")
	assert.ErrorContains(t, err, "no matching signing key")

	_, err = JWKToPEM(JWK{Kty: "oct"})
	assert.ErrorContains(t, err, "unsupported key type")

	_, err = JWKToPEM(JWK{Kty: "EC", Crv: "P-384"})
	assert.ErrorContains(t, err, "unsupported curve")
}
