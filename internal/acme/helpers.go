package acme

import (
	"crypto"
	"crypto/tls"
	"encoding/pem"
	"fmt"

	"github.com/relayforge/acmed/internal/httpstep"
)

// Error constructors grounded on komuw-ong's internal/acme/acme.go, which
// built very similar strings inline at each call site
// (fmt.Errorf("invalid http status code: %v, when getting newOrder url: %w",
// ...)); every user-visible failure should carry the ACME server's
// detail/type, so these are centralized here instead of repeated.

var (
	errNoReplayNonce       = fmt.Errorf("response carried no Replay-Nonce header")
	errNoMatchingChallenge = fmt.Errorf("authorization offered no challenge matching the configured type")
	errPollBudgetExhausted = fmt.Errorf("retry budget exhausted while polling for a terminal status")
)

func errChallengeNotValid(status string) error {
	return fmt.Errorf("challenge did not reach status valid (got %q)", status)
}

func errOrderNotValid(o order) error {
	if o.Error.Type != "" || o.Error.Detail != "" {
		return fmt.Errorf("order status %q: '%s' (%s)", o.Status, o.Error.Detail, o.Error.Type)
	}
	return fmt.Errorf("order did not reach status valid (got %q)", o.Status)
}

// httpStatusError renders a non-2xx response as a user-visible failure. It
// parses the body as an RFC 7807 problem document and carries the server's
// detail and type when present; otherwise only the status code is shown.
func httpStatusError(action string, res *httpstep.Result) error {
	ae := parseACMEError(res.StatusCode, res.Body)
	return httpStatusErrorACME(action, res.StatusCode, ae)
}

func httpStatusErrorACME(action string, code int, ae acmeError) error {
	return fmt.Errorf("%s", describeACMEError(action, code, ae))
}

// parseLeafAndChain builds a tls.Certificate from an ACME certificate-
// download response (a PEM chain, leaf first) and leafKey.
//
// leafKey is threaded through as an explicit parameter rather than recovered
// from anywhere inside the PEM blocks: ingesting the certificate PEM into
// the store must not destroy the freshly generated leaf private key, and
// there is no key slot here for PEM parsing to clobber in the first place —
// the key this function attaches to the result is always the one the
// renewal generated, never anything parsed from res.Body.
func parseLeafAndChain(leafKey crypto.Signer, body []byte) (tls.Certificate, error) {
	var der [][]byte
	rest := body
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			der = append(der, block.Bytes)
		}
	}
	if len(der) == 0 {
		return tls.Certificate{}, fmt.Errorf("certificate response contained no PEM CERTIFICATE blocks")
	}

	return tls.Certificate{
		Certificate: der,
		PrivateKey:  leafKey,
	}, nil
}
