package acme

import (
	"context"
	"crypto"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relayforge/acmed/internal/certstore"
	"github.com/relayforge/acmed/internal/httpstep"
	"github.com/relayforge/acmed/internal/task"
)

// This file is a twelve-state order state machine. It has no direct
// single-function analogue in komuw-ong: its internal/acme/acme.go and
// manager.go drive the same RFC 8555 sequence, but synchronously and with
// blocking time.Sleep retry loops (checkOrderStatus, checkChallengeStatus).
// The two-axis (state × http_phase) design here replaces that with an
// explicit tagged-state-plus-flag loop, suspending through internal/task
// and internal/httpstep instead of sleeping.

// state is the protocol axis of acme_ctx.
type state int

const (
	stateResources state = iota
	stateNewNonce
	stateChkAccount
	stateNewAccount
	stateNewOrder
	stateAuth
	stateChallenge
	stateChkChallenge
	stateFinalize
	stateChkOrder
	stateCertificate
	stateEnd
)

func (s state) String() string {
	switch s {
	case stateResources:
		return "RESOURCES"
	case stateNewNonce:
		return "NEWNONCE"
	case stateChkAccount:
		return "CHKACCOUNT"
	case stateNewAccount:
		return "NEWACCOUNT"
	case stateNewOrder:
		return "NEWORDER"
	case stateAuth:
		return "AUTH"
	case stateChallenge:
		return "CHALLENGE"
	case stateChkChallenge:
		return "CHKCHALLENGE"
	case stateFinalize:
		return "FINALIZE"
	case stateChkOrder:
		return "CHKORDER"
	case stateCertificate:
		return "CERTIFICATE"
	default:
		return "END"
	}
}

// httpPhase is the HTTP axis of acme_ctx.
type httpPhase int

const (
	phaseREQ httpPhase = iota
	phaseRES
)

// authEntry is acme_auth: one per authorization in the order,
// linked into a singly linked list headed at renewalCtx.auths.
type authEntry struct {
	authURL  string
	challURL string
	token    string
	next     *authEntry
}

// renewalCtx is acme_ctx: everything owned by one in-flight
// renewal.
type renewalCtx struct {
	// rid is a short correlation id (package id) stamped on every log line
	// this renewal emits, so an operator can grep one renewal's lifecycle
	// out of a process handling many certificates concurrently.
	rid string

	cfg    *Config
	store  *certstore.Store
	driver *httpstep.Driver
	l      *slog.Logger

	leafKey crypto.Signer
	names   []string
	csrDER  []byte
	entry   *certstore.Entry

	dir directory

	nonce       string
	kid         string
	orderURL    string
	finalizeURL string
	certURL     string

	auths    *authEntry
	nextAuth *authEntry

	st     state
	httpSt httpPhase

	retries int
	lastErr error
	pending *httpstep.Pending
}

// drive runs renewalCtx's state machine to completion. It is spawned as a
// task (internal/task.Runtime.Spawn) and must be woken with
// task.SignalInit immediately after spawning. It suspends exactly once per
// REQ->RES transition and never blocks a worker thread otherwise.
func (c *renewalCtx) drive(taskCtx context.Context, h *task.Handle) {
	h.Await() // consume the INIT signal the trigger wakes us with

	for c.st != stateEnd {
		switch c.httpSt {
		case phaseREQ:
			c.stepREQ(taskCtx, h)
		case phaseRES:
			c.stepRES(h)
		}
		if c.st == stateEnd {
			break
		}
		h.Await()
	}

	c.finish()
}

// stepREQ builds and issues the request for the current state. On a
// synchronous setup failure it counts as one failed attempt;
// otherwise it suspends the task by returning with httpSt left at phaseRES
// and a pending request in flight — the completion callback (registered by
// internal/httpstep) wakes h with task.SignalIOComplete when the response
// lands.
func (c *renewalCtx) stepREQ(ctx context.Context, h *task.Handle) {
	pend, err := c.issueForState(ctx, h)
	if err != nil {
		c.stepFailure(h, &ProtocolTransientError{Err: err})
		return
	}
	c.pending = pend
	c.httpSt = phaseRES
}

// issueForState builds the method/URL/payload/signing for c.st and issues it
// through the HTTP step driver.
func (c *renewalCtx) issueForState(ctx context.Context, h *task.Handle) (*httpstep.Pending, error) {
	switch c.st {
	case stateResources:
		return c.driver.Issue(ctx, h, http.MethodGet, c.cfg.DirectoryURL, nil, nil)

	case stateNewNonce:
		return c.driver.Issue(ctx, h, http.MethodHead, c.dir.NewNonceURL, nil, nil)

	case stateChkAccount:
		payload, err := json.Marshal(account{OnlyReturnExisting: true})
		if err != nil {
			return nil, err
		}
		return c.issueSigned(ctx, h, c.dir.NewAccountURL, payload)

	case stateNewAccount:
		a := account{TermsOfServiceAgreed: true}
		if c.cfg.Contact != "" {
			a.Contact = []string{c.cfg.Contact}
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		return c.issueSigned(ctx, h, c.dir.NewAccountURL, payload)

	case stateNewOrder:
		ids := make([]identifier, 0, len(c.names))
		for _, n := range c.names {
			ids = append(ids, identifier{Type: "dns", Value: n})
		}
		payload, err := json.Marshal(order{Identifiers: ids})
		if err != nil {
			return nil, err
		}
		return c.issueSigned(ctx, h, c.dir.NewOrderURL, payload)

	case stateAuth:
		// POST-as-GET: empty payload, protected header still signed.
		return c.issueSigned(ctx, h, c.nextAuth.authURL, nil)

	case stateChallenge:
		// {} "signals ready" transition table.
		return c.issueSigned(ctx, h, c.nextAuth.challURL, []byte("{}"))

	case stateChkChallenge:
		return c.issueSigned(ctx, h, c.nextAuth.challURL, nil)

	case stateFinalize:
		payload, err := json.Marshal(csr{CSR: b64(c.csrDER)})
		if err != nil {
			return nil, err
		}
		return c.issueSigned(ctx, h, c.finalizeURL, payload)

	case stateChkOrder:
		return c.issueSigned(ctx, h, c.orderURL, nil)

	case stateCertificate:
		return c.issueSigned(ctx, h, c.certURL, nil)
	}

	panic("acme: issueForState called in an unknown state")
}

// issueSigned wraps httpstep.Driver.Issue with a JWS-signed body: c.kid once
// it has been captured (every POST after account creation), c.cfg's account
// public JWK before that. The two are mutually exclusive in the protected
// header — exactly one of jwk/kid is ever set.
func (c *renewalCtx) issueSigned(ctx context.Context, h *task.Handle, url string, payload []byte) (*httpstep.Pending, error) {
	jws, err := prepBody(c.cfg.key, payload, c.nonce, url, c.kid)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(jws)
	if err != nil {
		return nil, err
	}
	return c.driver.Issue(ctx, h, http.MethodPost, url, nil, body)
}

// stepRES consumes the just-completed response for the current state:
// harvests Replay-Nonce/Location before classifying the status, then
// dispatches to the state-specific parser.
func (c *renewalCtx) stepRES(h *task.Handle) {
	res := c.pending.Result()
	c.pending = nil

	if res.Err != nil {
		c.stepFailure(h, &ProtocolTransientError{Err: res.Err})
		return
	}

	if n := replayNonce(res.Header); n != "" {
		c.nonce = n
	}

	// A response arrived and carried no transport error, so any lastErr from
	// an earlier retried attempt no longer describes the renewal's outcome.
	// Clear it before dispatching: the onXxx handler below will set it again
	// via stepFailure/consumePoll if this attempt also fails, but a renewal
	// that recovers and proceeds must not be reported as failed by finish().
	c.lastErr = nil

	var err error
	switch c.st {
	case stateResources:
		err = c.onResources(res)
	case stateNewNonce:
		err = c.onNewNonce(res)
	case stateChkAccount:
		err = c.onChkAccount(res)
	case stateNewAccount:
		err = c.onNewAccount(res)
	case stateNewOrder:
		err = c.onNewOrder(res)
	case stateAuth:
		err = c.onAuth(res)
	case stateChallenge:
		err = c.onChallenge(res)
	case stateChkChallenge:
		err = c.onChkChallenge(res)
	case stateFinalize:
		err = c.onFinalize(res)
	case stateChkOrder:
		err = c.onChkOrder(res)
	case stateCertificate:
		err = c.onCertificate(res)
	}

	if err != nil {
		c.stepFailure(h, err)
		return
	}

	// Advancing to the next state resets http_st to REQ and self-rearms
	// unless onXxx already set stateEnd.
	if c.st != stateEnd {
		c.httpSt = phaseREQ
		h.Wake(task.SignalAdvance)
	}
}

// advance moves to next state. It leaves the HTTP phase to stepRES, which
// resets it to REQ, and leaves the retry budget untouched (the budget is
// per-renewal, not per-state).
func (c *renewalCtx) advance(next state) {
	c.st = next
}

// consumePoll charges one unit of the shared retry budget for a poll that
// came back still-pending (as opposed to a transport/protocol error, which
// is charged by stepFailure). It returns false once the budget is exhausted,
// having already terminated the renewal with errPollBudgetExhausted — the
// caller must return nil immediately without calling advance. This bypasses
// stepFailure deliberately: going through the err-returning path here would
// leave c.lastErr set on an iteration that might still succeed, making a
// renewal that finishes later look like a failure in finish().
func (c *renewalCtx) consumePoll() bool {
	c.retries--
	if c.retries <= 0 {
		c.lastErr = &ProtocolTransientError{Err: errPollBudgetExhausted}
		c.st = stateEnd
		return false
	}
	return true
}

func (c *renewalCtx) onResources(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("fetching directory", res)}
	}
	d, err := parseDirectory(res.Body)
	if err != nil {
		return err
	}
	c.dir = d
	c.advance(stateNewNonce)
	return nil
}

func (c *renewalCtx) onNewNonce(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("getting a new nonce", res)}
	}
	if c.nonce == "" {
		return &ProtocolTransientError{Err: errNoReplayNonce}
	}
	c.advance(stateChkAccount)
	return nil
}

func (c *renewalCtx) onChkAccount(res *httpstep.Result) error {
	switch {
	case res.StatusCode/100 == 2:
		if loc := locationHeader(res.Header); loc != "" {
			c.kid = loc
		}
		c.advance(stateNewOrder)
		return nil
	default:
		ae := parseACMEError(res.StatusCode, res.Body)
		if strings.HasSuffix(ae.Type, ":accountDoesNotExist") {
			// Boundary behavior from proceed to NEWACCOUNT
			// rather than aborting.
			c.advance(stateNewAccount)
			return nil
		}
		return &ProtocolTransientError{Err: httpStatusErrorACME("checking account", res.StatusCode, ae)}
	}
}

func (c *renewalCtx) onNewAccount(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("creating account", res)}
	}
	if loc := locationHeader(res.Header); loc != "" {
		c.kid = loc
	}
	c.advance(stateNewOrder)
	return nil
}

func (c *renewalCtx) onNewOrder(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("getting newOrder URL", res)}
	}
	if loc := locationHeader(res.Header); loc != "" {
		c.orderURL = loc
	}
	var o order
	if err := json.Unmarshal(res.Body, &o); err != nil {
		return &ProtocolTransientError{Err: err}
	}
	c.finalizeURL = o.FinalizeURL

	var head, tail *authEntry
	for _, a := range o.Authorizations {
		e := &authEntry{authURL: a}
		if head == nil {
			head = e
		} else {
			tail.next = e
		}
		tail = e
	}
	c.auths = head
	c.nextAuth = head

	if head == nil {
		// ready with zero auths still requires finalize,
		// order-status tie-break.
		c.advance(stateFinalize)
		return nil
	}
	c.advance(stateAuth)
	return nil
}

func (c *renewalCtx) onAuth(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("fetching authorization", res)}
	}
	var a authorization
	if err := json.Unmarshal(res.Body, &a); err != nil {
		return &ProtocolTransientError{Err: err}
	}

	var chosen *challenge
	for i := range a.Challenges {
		if strings.EqualFold(a.Challenges[i].Type, string(c.cfg.Challenge)) {
			chosen = &a.Challenges[i]
			break
		}
	}
	if chosen == nil {
		return &ProtocolFatalError{Err: errNoMatchingChallenge}
	}

	c.nextAuth.challURL = chosen.Url
	c.nextAuth.token = chosen.Token

	if c.nextAuth.next != nil {
		c.nextAuth = c.nextAuth.next
		c.advance(stateAuth)
		return nil
	}
	c.nextAuth = c.auths
	c.advance(stateChallenge)
	return nil
}

func (c *renewalCtx) onChallenge(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("responding to challenge", res)}
	}
	if c.nextAuth.next != nil {
		c.nextAuth = c.nextAuth.next
		c.advance(stateChallenge)
		return nil
	}
	c.nextAuth = c.auths
	c.advance(stateChkChallenge)
	return nil
}

func (c *renewalCtx) onChkChallenge(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("checking challenge status", res)}
	}
	var st checkStatusResp
	if err := json.Unmarshal(res.Body, &st); err != nil {
		return &ProtocolTransientError{Err: err}
	}
	switch st.Status {
	case "pending", "processing", "":
		// Still polling this same authorization; stay in CHKCHALLENGE. This
		// consumes a unit of the shared retry budget so a server stuck at
		// pending/processing forever cannot loop without bound.
		if !c.consumePoll() {
			return nil
		}
		c.advance(stateChkChallenge)
		return nil
	case "valid":
		if c.nextAuth.next != nil {
			c.nextAuth = c.nextAuth.next
			c.advance(stateChkChallenge)
			return nil
		}
		c.advance(stateFinalize)
		return nil
	default:
		return &ProtocolFatalError{Err: errChallengeNotValid(st.Status)}
	}
}

func (c *renewalCtx) onFinalize(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("finalizing order", res)}
	}
	c.advance(stateChkOrder)
	return nil
}

func (c *renewalCtx) onChkOrder(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("checking order status", res)}
	}
	var o order
	if err := json.Unmarshal(res.Body, &o); err != nil {
		return &ProtocolTransientError{Err: err}
	}
	switch o.Status {
	case "valid":
		if o.CertificateURL != "" {
			c.certURL = o.CertificateURL
		}
		c.advance(stateCertificate)
		return nil
	case "processing", "ready":
		// Same accounting as onChkChallenge's poll loop: a still-processing
		// order must not be able to poll forever on a stuck budget.
		if !c.consumePoll() {
			return nil
		}
		c.advance(stateChkOrder)
		return nil
	default:
		return &ProtocolFatalError{Err: errOrderNotValid(o)}
	}
}

func (c *renewalCtx) onCertificate(res *httpstep.Result) error {
	if res.StatusCode/100 != 2 {
		return &ProtocolTransientError{Err: httpStatusError("downloading certificate", res)}
	}

	cert, err := parseLeafAndChain(c.leafKey, res.Body)
	if err != nil {
		return &ProtocolFatalError{Err: err}
	}
	c.entry.Cert = cert

	if err := c.store.Install(c.entry); err != nil {
		return &HotSwapError{Err: err}
	}

	c.advance(stateEnd)
	return nil
}

// stepFailure implements retry/abort policy: rewind to REQ,
// consume one retry, self-wake; on exhaustion, log and terminate.
func (c *renewalCtx) stepFailure(h *task.Handle, err error) {
	c.lastErr = err
	c.retries--
	if c.retries <= 0 {
		c.st = stateEnd
		return
	}
	c.httpSt = phaseREQ
	if h != nil {
		h.Wake(task.SignalAdvance)
	}
}

func (c *renewalCtx) finish() {
	if c.lastErr != nil {
		c.l.Error("acme_renewal_failed",
			"rid", c.rid,
			"cert", c.entry.Path,
			"state", c.st.String(),
			"error", c.lastErr,
		)
		return
	}
	c.l.Info("acme_renewal_succeeded", "rid", c.rid, "cert", c.entry.Path)
}
