package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"

	"github.com/relayforge/acmed/errors"
)

// Grounded on komuw-ong's internal/acme/helpers.go:sendCSR, which built a
// CSR for exactly one DNS name (CN only, no SAN extension of its own beyond
// what x509.CreateCertificateRequest derives from DNSNames). buildCSR
// generalizes that to every name in names becomes a DNS SAN,
// and the first name is also placed in the Subject's CN.
func buildCSR(leafKey crypto.Signer, names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, errors.New("cannot generate CSR: names list is empty")
	}

	alg, err := csrSignatureAlgorithm(leafKey)
	if err != nil {
		return nil, err
	}

	tmpl := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: names[0]},
		DNSNames:           names,
		SignatureAlgorithm: alg,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, leafKey)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	return der, nil
}

// csrSignatureAlgorithm picks the x509 signature algorithm matching leafKey's
// type, always with SHA-256; left to itself x509.CreateCertificateRequest
// would choose the hash by key size (SHA-384 for P-384, SHA-512 for P-521).
func csrSignatureAlgorithm(leafKey crypto.Signer) (x509.SignatureAlgorithm, error) {
	switch leafKey.Public().(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256, nil
	default:
		return 0, errors.New("leaf key is neither RSA nor ECDSA")
	}
}
