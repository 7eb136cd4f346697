package acme

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/relayforge/acmed/errors"
)

// Grounded on komuw-ong's internal/acme/helpers.go:jWKThumbprint, which
// hardcoded the EC field order. Field order matters for RFC 7638 §3.3: the
// thumbprint is computed over the UTF-8 JSON encoding of the "required
// members" of the JWK, ordered lexicographically by member name, with no
// whitespace. Because the two key families have different required-member
// sets, each gets its own literal struct so encoding/json's struct-tag
// ordering is exactly the RFC's ordering (crv,kty,x,y for EC; e,kty,n for RSA).

type ecThumbprintFields struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type rsaThumbprintFields struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

// thumbprint computes the RFC 7638 JWK thumbprint of key's public key: the
// base64url-encoded SHA-256 digest of its canonical JSON form. LoadConfig
// stores it on Config as the input to an HTTP-01/DNS-01 key authorization;
// it is stable regardless of any whitespace in how the key was originally
// serialized.
func thumbprint(key accountKey) (string, error) {
	var canonical []byte
	var err error

	switch {
	case key.rsaKey != nil:
		pub, jerr := key.publicJWK()
		if jerr != nil {
			return "", jerr
		}
		canonical, err = json.Marshal(rsaThumbprintFields{E: pub.E, Kty: pub.Kty, N: pub.N})
	case key.ecKey != nil:
		pub, jerr := key.publicJWK()
		if jerr != nil {
			return "", jerr
		}
		canonical, err = json.Marshal(ecThumbprintFields{Crv: pub.Crv, Kty: pub.Kty, X: pub.X, Y: pub.Y})
	default:
		return "", errors.New("account key has neither an RSA nor an EC component")
	}
	if err != nil {
		return "", errors.Wrap(err)
	}

	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
