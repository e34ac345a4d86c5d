package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, ttl time.Duration) Claims {
	return Claims{
		Email: sub + "@example.com",
		Role:  "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestValidateJWTHMAC(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), claimsFor("user-1", time.Hour))

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user-1@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateJWTExpired(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), claimsFor("user-1", -time.Minute))
	_, err := ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestValidateJWTRequiresSubject(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), claimsFor("", time.Hour))
	_, err := ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestValidateJWTECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	token := sign(t, jwt.SigningMethodES256, priv, claimsFor("user-2", time.Hour))
	claims, err := ValidateJWT(token, pemKey)
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.Subject)

	_, err = ParseRSAPublicKey(pemKey)
	assert.Error(t, err, "an ECDSA key is not an RSA key")
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	_, err := ValidateJWT("not-a-token", "secret")
	assert.Error(t, err)
	_, err = ValidateJWT("x.y.z", "")
	assert.Error(t, err)
}
