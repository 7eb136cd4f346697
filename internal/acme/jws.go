package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/relayforge/acmed/errors"
)

// Most of the shape here is inspired by (or taken from) komuw-ong's
// internal/acme/helpers.go (jwkEncode, jwsHasher, jwsSign, prepBody), which
// only ever had to deal with an ECDSA P-256 account key. accountKey
// generalizes that to RSA and to the two larger NIST curves, following
// whatever key type the account key file holds (the config
// `keytype`/`bits`/`curves` knobs govern the leaf key, not this one).

// accountKey is a sum type over the two families of account private key ACME
// accepts: RSA and ECDSA. Exactly one of rsaKey/ecKey is non-nil.
type accountKey struct {
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
}

func rsaAccountKey(k *rsa.PrivateKey) accountKey  { return accountKey{rsaKey: k} }
func ecAccountKey(k *ecdsa.PrivateKey) accountKey { return accountKey{ecKey: k} }

// alg returns the JWS algorithm name for k's key,
// RSA -> RS256; EC P-256/P-384/P-521 -> ES256/ES384/ES512.
func (k accountKey) alg() (string, error) {
	switch {
	case k.rsaKey != nil:
		return "RS256", nil
	case k.ecKey != nil:
		switch k.ecKey.Curve.Params().BitSize {
		case 256:
			return "ES256", nil
		case 384:
			return "ES384", nil
		case 521:
			return "ES512", nil
		}
	}
	return "", errors.New("couldn't choose a JWK algorithm")
}

// publicJWK returns the RFC 7518 JSON Web Key representation of k's public key.
func (k accountKey) publicJWK() (jwk, error) {
	switch {
	case k.rsaKey != nil:
		pub := k.rsaKey.PublicKey
		return jwk{
			Kty: "RSA",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(bigEndianTrimmed(int64(pub.E))),
		}, nil
	case k.ecKey != nil:
		crv, size, err := curveNameAndSize(k.ecKey.Curve)
		if err != nil {
			return jwk{}, err
		}
		pub := k.ecKey.PublicKey
		return jwk{
			Kty: "EC",
			Crv: crv,
			X:   base64.RawURLEncoding.EncodeToString(leftPad(pub.X.Bytes(), size)),
			Y:   base64.RawURLEncoding.EncodeToString(leftPad(pub.Y.Bytes(), size)),
		}, nil
	}
	return jwk{}, errors.New("account key has neither an RSA nor an EC component")
}

// sign signs digest with k, returning the raw JOSE signature bytes.
// For ECDSA this is the raw R||S concatenation (RFC 7518 §3.4), never the
// ASN.1 DER form that a general-purpose ASN.1 encoder would otherwise
// produce — that DER-vs-raw mismatch is the likeliest source of a silent
// ACME rejection.
func (k accountKey) sign(digest []byte) ([]byte, error) {
	switch {
	case k.rsaKey != nil:
		hashed := sha256.Sum256(digest)
		return rsa.SignPKCS1v15(rand.Reader, k.rsaKey, crypto.SHA256, hashed[:])
	case k.ecKey != nil:
		_, size, err := curveNameAndSize(k.ecKey.Curve)
		if err != nil {
			return nil, err
		}
		hashed, err := ecDigest(k.ecKey.Curve, digest)
		if err != nil {
			return nil, err
		}
		r, s, err := ecdsa.Sign(rand.Reader, k.ecKey, hashed)
		if err != nil {
			return nil, errors.Wrap(err)
		}
		out := make([]byte, 2*size)
		r.FillBytes(out[:size])
		s.FillBytes(out[size:])
		return out, nil
	}
	return nil, errors.New("account key has neither an RSA nor an EC component")
}

// ecDigest hashes digest with the SHA variant RFC 7518 §3.4 pairs with
// curve's bit size: SHA-256 for P-256 (ES256), SHA-384 for P-384 (ES384),
// SHA-512 for P-521 (ES512). alg() advertises the matching ES### name, so
// the signature must actually be computed with that hash or it will not
// verify against the account public key.
func ecDigest(c elliptic.Curve, digest []byte) ([]byte, error) {
	switch c.Params().BitSize {
	case 256:
		h := sha256.Sum256(digest)
		return h[:], nil
	case 384:
		h := sha512.Sum384(digest)
		return h[:], nil
	case 521:
		h := sha512.Sum512(digest)
		return h[:], nil
	default:
		return nil, errors.New("unsupported EC curve")
	}
}

// curveNameAndSize maps a curve to its JWK "crv" name and its coordinate
// width in bytes (used to left-pad X/Y and to size the raw R||S signature).
func curveNameAndSize(c elliptic.Curve) (string, int, error) {
	switch c.Params().BitSize {
	case 256:
		return "P-256", 32, nil
	case 384:
		return "P-384", 48, nil
	case 521:
		return "P-521", 66, nil
	default:
		return "", 0, errors.New("unsupported EC curve")
	}
}

// b64 is the encoding used throughout ACME's JWS serialization: unpadded base64url.
func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// prepBody builds the flattened JWS serialization RFC 8555 requires: a
// protected header carrying {alg, nonce, url} plus exactly one of jwk/kid,
// the given payload (which may be nil/empty for a POST-as-GET), and a
// signature over b64url(protected) || "." || b64url(payload).
func prepBody(key accountKey, payload []byte, nonce, url, kid string) (jsonWebSignature, error) {
	alg, err := key.alg()
	if err != nil {
		return jsonWebSignature{}, err
	}

	prot := protected{Alg: alg, Nonce: nonce, Url: url}
	if kid != "" {
		prot.Kid = &kid
	} else {
		pub, err := key.publicJWK()
		if err != nil {
			return jsonWebSignature{}, err
		}
		prot.Jwk = &pub
	}

	protJSON, err := json.Marshal(prot)
	if err != nil {
		return jsonWebSignature{}, errors.Wrap(err)
	}
	protB64 := b64(protJSON)

	// payload is intentionally not omitempty in jsonWebSignature: RFC 8555
	// §6.3 requires an explicit, empty payload string for POST-as-GET.
	payloadB64 := b64(payload)

	signingInput := protB64 + "." + payloadB64
	sig, err := key.sign([]byte(signingInput))
	if err != nil {
		return jsonWebSignature{}, err
	}

	return jsonWebSignature{
		Protected: protB64,
		Payload:   payloadB64,
		Signature: b64(sig),
	}, nil
}

// leftPad pads b on the left with zero bytes until it is size bytes long.
// EC coordinates must be fixed-width per RFC 7518 §6.2.1.
func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// bigEndianTrimmed returns n's minimal big-endian byte representation, used
// for the RSA public exponent "e" (commonly 65537, i.e. 3 bytes: 01 00 01).
func bigEndianTrimmed(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	i := 0
	for i < len(buf)-1 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}
