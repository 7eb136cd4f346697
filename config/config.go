// Package config loads acmed's configuration, grounded on komuw-ong's
// config/config.go (a single flat struct read from environment/.env) and on
// the stanza/viper.Viper style of _examples/kgretzky-evilginx2's
// core/config.go, generalized to repeated `acme <name>`
// sections.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/relayforge/acmed/internal/acme"
)

// ExperimentalACMEKey gates the entire `acme` section family behind a
// global opt-in: the section is experimental and must be enabled explicitly
// before any stanza in it is loaded.
const ExperimentalACMEKey = "experimental_acme"

// Stanza mirrors one `acme <name>` section's keys verbatim, before any
// validation or key loading — the mapstructure-tagged shape viper.Unmarshal
// populates.
type Stanza struct {
	Name      string `mapstructure:"name"`
	URI       string `mapstructure:"uri"`
	Contact   string `mapstructure:"contact"`
	Account   string `mapstructure:"account"`
	Challenge string `mapstructure:"challenge"`
	KeyType   string `mapstructure:"keytype"`
	Bits      int    `mapstructure:"bits"`
	Curves    string `mapstructure:"curves"`
}

// LoadACMERegistry reads every `acme` stanza from v and builds a populated
// acme.Registry. It returns a *acme.ConfigError (via acme.LoadConfig) for
// any invalid stanza, and enforces the experimental opt-in and per-name
// uniqueness invariants.
func LoadACMERegistry(v *viper.Viper) (*acme.Registry, error) {
	var stanzas []Stanza
	if err := v.UnmarshalKey("acme", &stanzas); err != nil {
		return nil, fmt.Errorf("acme config: %w", err)
	}
	if len(stanzas) == 0 {
		return acme.NewRegistry(), nil
	}

	if !v.GetBool(ExperimentalACMEKey) {
		return nil, fmt.Errorf("acme config: the acme section is experimental; set %q to enable it", ExperimentalACMEKey)
	}

	reg := acme.NewRegistry()
	for _, st := range stanzas {
		cfg, err := stanzaToConfig(st)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func stanzaToConfig(st Stanza) (*acme.Config, error) {
	challenge := acme.ChallengeType(strings.ToLower(st.Challenge))
	switch challenge {
	case "", acme.ChallengeHTTP01:
		challenge = acme.ChallengeHTTP01
	case acme.ChallengeDNS01:
		// ok
	default:
		return nil, fmt.Errorf("acme %q: unknown challenge %q", st.Name, st.Challenge)
	}

	leafKeyType := acme.LeafKeyEC
	switch strings.ToUpper(st.KeyType) {
	case "", "ECDSA":
		leafKeyType = acme.LeafKeyEC
	case "RSA":
		leafKeyType = acme.LeafKeyRSA
	default:
		return nil, fmt.Errorf("acme %q: unknown keytype %q", st.Name, st.KeyType)
	}

	return acme.LoadConfig(
		st.Name,
		st.URI,
		st.Contact,
		st.Account,
		challenge,
		acme.LeafKeyPolicy{Type: leafKeyType, Bits: st.Bits, Curve: st.Curves},
	)
}
