package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"
	"sync"

	"github.com/relayforge/acmed/errors"
)

// Config is immutable configuration for one named ACME identity, loaded
// once at startup and read-only thereafter. komuw-ong had no equivalent of
// this type — its internal/acme.manager hardcoded a single directory URL
// and a single on-disk key path — so this is new code generalizing that
// single hardcoded identity into a named, repeatable configuration unit.
type Config struct {
	Name string

	DirectoryURL string
	Contact      string

	accountKeyPath string
	key            accountKey

	// keyThumbprint is the RFC 7638 thumbprint of key's public JWK. Nothing
	// in this package reads it back: key-authorization construction for the
	// http-01/dns-01 challenge response lives with whatever publishes the
	// response (the HTTP token server, the DNS record), not here. It is kept
	// on Config as that publisher's input rather than recomputed per use.
	keyThumbprint string

	Challenge ChallengeType
	LeafKey   LeafKeyPolicy
}

// ChallengeType is the validation method an order's authorizations must
// satisfy,
type ChallengeType string

const (
	ChallengeHTTP01 ChallengeType = "http-01"
	ChallengeDNS01  ChallengeType = "dns-01"
)

// LeafKeyPolicy is the {type, bits, curve} triple an ACME config assigns
// for generating the certificate's own private key (distinct from the
// account key).
type LeafKeyPolicy struct {
	Type  LeafKeyType
	Bits  int    // RSA only
	Curve string // EC only: "P-256", "P-384", or "P-521"
}

type LeafKeyType string

const (
	LeafKeyRSA LeafKeyType = "RSA"
	LeafKeyEC  LeafKeyType = "ECDSA"
)

// GenerateKey produces a fresh leaf private key honoring p, for step 6 of
// the renewal trigger.
func (p LeafKeyPolicy) GenerateKey() (crypto.Signer, error) {
	switch p.Type {
	case LeafKeyRSA:
		bits := p.Bits
		if bits == 0 {
			bits = 4096
		}
		k, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, errors.Wrap(err)
		}
		return k, nil
	case LeafKeyEC, "":
		curve, err := parseCurve(p.Curve)
		if err != nil {
			return nil, err
		}
		k, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err)
		}
		return k, nil
	default:
		return nil, errors.Errorf("unknown leaf key type %q", p.Type)
	}
}

func parseCurve(name string) (elliptic.Curve, error) {
	switch strings.ToUpper(name) {
	case "", "P-384":
		return elliptic.P384(), nil
	case "P-256":
		return elliptic.P256(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, errors.Errorf("unknown EC curve %q", name)
	}
}

// LoadConfig builds a Config, loading the account private key from disk.
// Per preserved Open Question, a missing key file aborts
// startup rather than being generated on the fly — a TODO for a future
// extension, not implemented here.
func LoadConfig(name, directoryURL, contact, accountKeyPath string, challenge ChallengeType, leafKey LeafKeyPolicy) (*Config, error) {
	if name == "" {
		return nil, &ConfigError{Err: errors.New("acme config: \"name\" is required")}
	}
	if directoryURL == "" {
		return nil, &ConfigError{Err: errors.Errorf("acme %q: \"uri\" is required", name)}
	}
	if accountKeyPath == "" {
		accountKeyPath = name + ".account.key"
	}
	if challenge == "" {
		challenge = ChallengeHTTP01
	}

	key, err := loadAccountKey(accountKeyPath)
	if err != nil {
		return nil, &ConfigError{Err: errors.Wrap(err)}
	}

	tp, err := thumbprint(key)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &Config{
		Name:           name,
		DirectoryURL:   directoryURL,
		Contact:        contact,
		accountKeyPath: accountKeyPath,
		key:            key,
		keyThumbprint:  tp,
		Challenge:      challenge,
		LeafKey:        leafKey,
	}, nil
}

// loadAccountKey reads a PEM-encoded PKCS#8 (or legacy PKCS#1/SEC1) private
// key from path. The file must exist and be a usable private key; a
// missing or unparseable file is a ConfigError, matching komuw-ong's
// getEcdsaPrivKey's abort-if-absent behavior, generalized to also accept
// RSA keys.
func loadAccountKey(path string) (accountKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return accountKey{}, errors.Wrap(err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return accountKey{}, errors.Errorf("%s: not a PEM-encoded private key", path)
	}

	if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecAccountKey(k), nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaAccountKey(k), nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return accountKey{}, errors.Errorf("%s: %v", path, err)
	}
	switch kk := k.(type) {
	case *rsa.PrivateKey:
		return rsaAccountKey(kk), nil
	case *ecdsa.PrivateKey:
		return ecAccountKey(kk), nil
	default:
		return accountKey{}, errors.Errorf("%s: unsupported private key type %T", path, kk)
	}
}

// Registry is the realization of acme_cfgs: populated at config
// load and read-only thereafter. It is safe for concurrent lookups because
// nothing ever mutates it post-startup; the mutex only guards the
// initial-population window.
type Registry struct {
	mu   sync.RWMutex
	byNm map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{byNm: make(map[string]*Config)}
}

// Register adds cfg to the registry. Invariant from a name is
// unique.
func (r *Registry) Register(cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byNm[cfg.Name]; exists {
		return &ConfigError{Err: errors.Errorf("duplicate acme config name %q", cfg.Name)}
	}
	r.byNm[cfg.Name] = cfg
	return nil
}

// Lookup returns the config named name, or an error if it does not resolve
// to a fully initialized acme_cfg.
func (r *Registry) Lookup(name string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byNm[name]
	if !ok {
		return nil, &ConfigError{Err: errors.Errorf("unknown acme config %q", name)}
	}
	return cfg, nil
}
