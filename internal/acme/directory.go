package acme

import (
	"encoding/json"
	"net/http"

	"github.com/relayforge/acmed/errors"
)

// Grounded on komuw-ong's internal/acme/acme.go:getDirectory/getNonce,
// generalized only insofar as they are pulled out of the blocking
// request/response calls that code made directly and rewritten as pure
// functions over an already-completed [httpstep.Result] — the fetching
// itself is driven by the state machine through the HTTP step driver so the
// task never blocks.

// parseDirectory decodes a directory resource body.
func parseDirectory(body []byte) (directory, error) {
	var d directory
	if err := json.Unmarshal(body, &d); err != nil {
		return directory{}, errors.Wrap(err)
	}
	if d.NewNonceURL == "" || d.NewAccountURL == "" || d.NewOrderURL == "" {
		return directory{}, errors.New("directory response missing a required URL")
	}
	return d, nil
}

// replayNonce extracts the Replay-Nonce header from an ACME response. Per
// nonce-refresh tie-break, every response (2xx or error) that
// carries this header replaces ctx.nonce; its absence is not itself an
// error — the caller keeps using the previously stored nonce.
func replayNonce(h http.Header) string {
	return h.Get("Replay-Nonce")
}

// locationHeader extracts the Location header, used to capture kid after
// account creation and the order URL after newOrder.
func locationHeader(h http.Header) string {
	return h.Get("Location")
}

// parseACMEError decodes an RFC 7807 problem document from a non-2xx ACME
// response body. A body that isn't a problem document (e.g. an upstream
// proxy's plain-text error page) decodes to a zero-value acmeError, which
// describeACMEError renders as a bare status code.
func parseACMEError(statusCode int, body []byte) acmeError {
	var ae acmeError
	_ = json.Unmarshal(body, &ae) // best-effort; a parse failure leaves ae zeroed
	ae.Status = statusCode
	return ae
}
