package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKSToPEM converts the first signing key of a JWKS document into a PEM
// public key usable as JWT_PUBLIC_KEY. kid selects a key when non-empty.
func JWKSToPEM(doc []byte, kid string) (string, error) {
	var jwks JWKS
	if err := json.Unmarshal(doc, &jwks); err != nil {
		return "", fmt.Errorf("parse JWKS: %w", err)
	}
	for _, k := range jwks.Keys {
		if kid != "" && k.Kid != kid {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		return JWKToPEM(k)
	}
	return "", errors.New("no matching signing key in JWKS")
}

// JWKToPEM encodes one EC P-256 or RSA key as a PKIX PEM block.
func JWKToPEM(key JWK) (string, error) {
	var pub any
	switch key.Kty {
	case "EC":
		if key.Crv != "P-256" {
			return "", fmt.Errorf("unsupported curve %q", key.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil {
			return "", fmt.Errorf("decode X coordinate: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(key.Y)
		if err != nil {
			return "", fmt.Errorf("decode Y coordinate: %w", err)
		}
		pub = &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			return "", fmt.Errorf("decode modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			return "", fmt.Errorf("decode exponent: %w", err)
		}
		pub = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	default:
		return "", fmt.Errorf("unsupported key type %q", key.Kty)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
