package acme

import (
	"fmt"
	"log/slog"

	"github.com/relayforge/acmed/id"
	"github.com/relayforge/acmed/internal/certstore"
	"github.com/relayforge/acmed/internal/httpstep"
	"github.com/relayforge/acmed/internal/task"
)

// DefaultRetryBudget is the initial value of a renewal's remaining retry
// budget: a small constant (3) rather than a config knob, so a
// misbehaving ACME server can't be coaxed into an unbounded retry loop.
const DefaultRetryBudget = 3

// Renewer is the renewal trigger: validates inputs, generates a fresh leaf
// key, builds the CSR, allocates a renewal context, and spawns the
// state-machine task. komuw-ong has no single-entry-point analogue — its
// internal/acme.manager wired the equivalent steps directly into an
// http.Handler — so this assembles the same constituent pieces (key
// generation, CSR building) behind one explicit call.
type Renewer struct {
	Registry *Registry
	Store    *certstore.Store
	Runtime  *task.Runtime
	Driver   *httpstep.Driver
	Log      *slog.Logger

	// RetryBudget overrides DefaultRetryBudget when non-zero; it exists so
	// tests can exercise a tight retry budget deterministically.
	RetryBudget int
}

// Renew renews the certificate named certPath (its store key). It runs the
// setup steps below synchronously and returns once the state-machine task
// has been spawned and woken with SignalInit — it does not wait for the
// renewal to finish.
func (rn *Renewer) Renew(certPath string) error {
	// Step 1: lock the store; reject synchronously if already locked.
	if !rn.Store.TryLock() {
		return &RenewalSetupError{Err: &certstore.LockedError{}}
	}

	// Step 2: look up the entry; require a known ACME config binding.
	live, ok := rn.Store.Lookup(certPath)
	if !ok {
		rn.Store.Unlock()
		return &RenewalSetupError{Err: fmt.Errorf("unknown certificate %q", certPath)}
	}
	if live.ACMEConfigName == "" {
		rn.Store.Unlock()
		return &RenewalSetupError{Err: fmt.Errorf("certificate %q is not bound to any ACME configuration", certPath)}
	}
	cfg, err := rn.Registry.Lookup(live.ACMEConfigName)
	if err != nil {
		rn.Store.Unlock()
		return &RenewalSetupError{Err: err}
	}

	// Step 3: duplicate the entry to produce the write target.
	dup, err := rn.Store.Duplicate(certPath)
	if err != nil {
		rn.Store.Unlock()
		return &RenewalSetupError{Err: err}
	}

	// Step 4: unlock the store.
	rn.Store.Unlock()

	names, err := namesFromEntry(live)
	if err != nil {
		return &RenewalSetupError{Err: err}
	}
	if err := validateNames(names); err != nil {
		return &RenewalSetupError{Err: err}
	}

	// Step 5: allocate the retry budget.
	retries := rn.RetryBudget
	if retries == 0 {
		retries = DefaultRetryBudget
	}

	// Step 6: generate a fresh leaf private key.
	leafKey, err := cfg.LeafKey.GenerateKey()
	if err != nil {
		return &RenewalSetupError{Err: fmt.Errorf("key generation failed: %w", err)}
	}

	// Step 7: build the CSR against the live entry's names.
	csrDER, err := buildCSR(leafKey, names)
	if err != nil {
		return &RenewalSetupError{Err: fmt.Errorf("CSR generation failed: %w", err)}
	}

	ctx := &renewalCtx{
		rid:     id.New(),
		cfg:     cfg,
		store:   rn.Store,
		driver:  rn.Driver,
		l:       rn.Log,
		leafKey: leafKey,
		names:   names,
		csrDER:  csrDER,
		entry:   dup,
		st:      stateResources,
		httpSt:  phaseREQ,
		retries: retries,
	}

	// Step 8: spawn the state-machine task and wake it with INIT.
	h := rn.Runtime.Spawn(ctx.drive)
	h.Wake(task.SignalInit)
	return nil
}

// namesFromEntry recovers the DNS name list a store entry's live
// certificate covers, the input to the CSR build. An entry about to be
// renewed always carries a previously issued certificate with at least one
// DNS SAN; an empty names list is reachable only through a misconfigured
// entry, which is reported the same way.
func namesFromEntry(e *certstore.Entry) ([]string, error) {
	if len(e.Cert.Certificate) == 0 {
		return nil, fmt.Errorf("cannot generate CSR: certificate %q has no names on file", e.Path)
	}
	names := certstore.LeafDNSNames(&e.Cert)
	if len(names) == 0 {
		return nil, fmt.Errorf("cannot generate CSR: certificate %q has no names on file", e.Path)
	}
	return names, nil
}
