// Package certstore implements the in-memory certificate index and its
// hot-swap installer: the write target a renewal installs its freshly
// issued certificate into.
//
// Grounded on komuw-ong's server/tls_conf.go, whose getTlsConfig wires a
// *tls.Config.GetCertificate closure ("You need to call it once instead of
// per request") against a certificate source called once at startup. Store
// generalizes that single closure into a registry of named entries, each
// with its own list of such closures ("bindings") that must all be rebuilt,
// together and atomically, whenever that entry's certificate is renewed.
package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"sync"

	"go.uber.org/multierr"

	"github.com/relayforge/acmed/errors"
)

// Binding is a single TLS listener's view of a store Entry: a
// *tls.Config.GetCertificate-shaped closure that must be rebuilt against a
// new Entry whenever the old one is replaced.
type Binding struct {
	mu   sync.RWMutex
	cert *tls.Certificate
}

// GetCertificate is installed as a *tls.Config's GetCertificate field. It is
// safe for concurrent use by many in-flight handshakes; Install below is the
// only writer.
func (b *Binding) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cert == nil {
		return nil, errors.New("certstore: binding has no certificate installed")
	}
	return b.cert, nil
}

func (b *Binding) set(cert *tls.Certificate) {
	b.mu.Lock()
	b.cert = cert
	b.mu.Unlock()
}

// rebuild returns a fresh Binding pointed at cert; it does not mutate b —
// in-flight handshakes on the old binding keep seeing the old certificate
// until the store entry swap makes the new binding reachable, so readers
// observe either the pre-swap or post-swap store and never a mixed state.
// It fails if cert's leaf does not parse as a valid X.509 certificate,
// which is the one way a single binding's rebuild can fail independently
// of the others.
func (b *Binding) rebuild(cert *tls.Certificate) (*Binding, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certstore: new certificate has no leaf bytes")
	}
	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		return nil, errors.Wrap(err)
	}
	nb := &Binding{}
	nb.set(cert)
	return nb, nil
}

// Entry is one named certificate slot: the live tls.Certificate plus every
// Binding currently wired to it.
type Entry struct {
	Path string
	// ACMEConfigName names the acme.Config this entry renews against. Empty
	// for entries not managed by ACME at all.
	ACMEConfigName string

	Cert     tls.Certificate
	Bindings []*Binding
}

// duplicate returns a copy of e suitable for use as a renewal's write
// target: same identity and bindings list (by reference — bindings
// themselves are rebuilt, not copied, at install time), a zero-value
// Cert to be filled in by the renewal.
func (e *Entry) duplicate() *Entry {
	return &Entry{
		Path:           e.Path,
		ACMEConfigName: e.ACMEConfigName,
		Bindings:       append([]*Binding(nil), e.Bindings...),
	}
}

// Store is the certificate index: entries keyed by path, guarded by a
// single mutex. All writers use TryLock; the
// installer is the only writer path that replaces an entry outright.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func New() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// TryLock attempts to acquire the store-wide lock without blocking. Callers
// must call Unlock exactly once for every successful TryLock.
func (s *Store) TryLock() bool { return s.mu.TryLock() }

func (s *Store) Unlock() { s.mu.Unlock() }

// Put registers e, keyed by e.Path. Callers must hold the store lock.
func (s *Store) Put(e *Entry) {
	s.entries[e.Path] = e
}

// Lookup returns the live entry at path. Callers must hold the store lock.
func (s *Store) Lookup(path string) (*Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

// Duplicate returns a write-target copy of the live entry at path, for a
// renewal to fill in and later install. Callers must hold the store lock;
// the returned Entry is not itself inserted into the store until Install
// succeeds.
func (s *Store) Duplicate(path string) (*Entry, error) {
	live, ok := s.entries[path]
	if !ok {
		return nil, errors.New("certstore: no entry at path " + path)
	}
	return live.duplicate(), nil
}

// Install is hot-swap installer. It acquires the store-wide
// lock itself (the caller must not already hold it), looks up the live entry
// at newEntry.Path, rebuilds every one of its bindings against newEntry, and
// atomically replaces the live entry. On any rebuild failure the operation
// aborts with the partial rebuilds discarded; the live entry is untouched.
func (s *Store) Install(newEntry *Entry) error {
	if !s.TryLock() {
		return &LockedError{}
	}
	defer s.Unlock()

	live, ok := s.entries[newEntry.Path]
	if !ok {
		return errors.New("certstore: no live entry at path " + newEntry.Path)
	}

	rebuilt := make([]*Binding, 0, len(live.Bindings))
	var rebuildErrs error
	for _, b := range live.Bindings {
		nb, err := b.rebuild(&newEntry.Cert)
		if err != nil {
			rebuildErrs = multierr.Append(rebuildErrs, err)
			continue
		}
		rebuilt = append(rebuilt, nb)
	}
	if rebuildErrs != nil {
		// Partial rebuilds are discarded by simply never installing them:
		// the live entry above is untouched because we return before
		// mutating s.entries.
		return errors.Wrap(rebuildErrs)
	}

	newEntry.Bindings = rebuilt
	s.entries[newEntry.Path] = newEntry
	return nil
}

// LeafDNSNames returns the DNS SAN list of cert's leaf certificate, the set
// of names a renewal must re-request via the ACME order's identifiers.
func LeafDNSNames(cert *tls.Certificate) []string {
	if len(cert.Certificate) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil
	}
	return leaf.DNSNames
}

// LockedError is returned by Install (and by the renewal trigger's initial
// lock step) when the store-wide lock is already held by another update.
type LockedError struct{}

func (*LockedError) Error() string { return "operations on certificates are currently locked" }
