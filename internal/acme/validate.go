package acme

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/relayforge/acmed/errors"
)

// validateNames checks every DNS name a renewal is about to request a
// certificate for, grounded on komuw-ong's internal/dmn.Validate (and its
// internal/acme duplicate) which run the same idna.Registration.ToASCII
// check before handing a domain to autocert. ACME itself would eventually
// reject a malformed identifier, but failing fast here avoids spending a
// retry budget on a name that was never going to validate.
func validateNames(names []string) error {
	if len(names) == 0 {
		return errors.New("acme: certificate must cover at least one DNS name")
	}
	for _, n := range names {
		if err := validateName(n); err != nil {
			return err
		}
	}
	return nil
}

func validateName(domain string) error {
	if len(domain) == 0 {
		return errors.New("acme: domain name cannot be empty")
	}
	if strings.Count(domain, "*") > 1 {
		return errors.Errorf("acme: domain %q can only contain one wildcard character", domain)
	}
	if strings.Contains(domain, "*") && !strings.HasPrefix(domain, "*.") {
		return errors.Errorf("acme: domain %q wildcard must be a `*.` prefix", domain)
	}

	toCheck := domain
	if strings.HasPrefix(domain, "*.") {
		toCheck = domain[2:]
	}

	if _, err := idna.Registration.ToASCII(toCheck); err != nil {
		return errors.Errorf("acme: domain %q is invalid: %v", domain, err)
	}
	return nil
}
