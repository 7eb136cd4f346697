package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.akshayshah.org/attest"

	"github.com/relayforge/acmed/internal/certstore"
	"github.com/relayforge/acmed/internal/httpstep"
	"github.com/relayforge/acmed/internal/task"
)

// mockACME is a minimal RFC 8555 server exercising the full happy-path
// order sequence: directory -> nonce -> newAccount (notExist) -> newAccount
// (create) -> newOrder -> auth -> challenge -> chkchallenge(valid) ->
// finalize -> chkorder(valid) -> certificate.
type mockACME struct {
	srv *httptest.Server

	nonceCounter    int64
	challengePolls  int64
	orderPolls      int64
	sawReadySignal  int64
	certPEM         []byte
}

func newMockACME(t *testing.T) *mockACME {
	m := &mockACME{certPEM: selfSignedPEM(t)}
	mux := http.NewServeMux()

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		_ = json.NewEncoder(w).Encode(directory{
			NewNonceURL:   m.url("/new-nonce"),
			NewAccountURL: m.url("/new-acct"),
			NewOrderURL:   m.url("/new-order"),
		})
	})

	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		w.WriteHeader(http.StatusOK)
	})

	var sawAccount int64
	mux.HandleFunc("/new-acct", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		if atomic.AddInt64(&sawAccount, 1) == 1 {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(acmeError{
				Type:   "urn:ietf:params:acme:error:accountDoesNotExist",
				Detail: "no account found for this key",
			})
			return
		}
		w.Header().Set("Location", m.url("/acct/1"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(account{})
	})

	mux.HandleFunc("/new-order", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		w.Header().Set("Location", m.url("/order/1"))
		_ = json.NewEncoder(w).Encode(order{
			Status:         "pending",
			Authorizations: []string{m.url("/authz/1")},
			FinalizeURL:    m.url("/finalize"),
		})
	})

	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		_ = json.NewEncoder(w).Encode(authorization{
			Status: "pending",
			Challenges: []challenge{
				{Type: "http-01", Url: m.url("/chall/1"), Status: "pending", Token: "tok1"},
			},
		})
	})

	mux.HandleFunc("/chall/1", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		var jws jsonWebSignature
		_ = json.NewDecoder(r.Body).Decode(&jws)
		if jws.Payload != "" {
			atomic.AddInt64(&m.sawReadySignal, 1)
			_ = json.NewEncoder(w).Encode(challenge{Type: "http-01", Url: m.url("/chall/1"), Status: "processing", Token: "tok1"})
			return
		}
		n := atomic.AddInt64(&m.challengePolls, 1)
		status := "pending"
		if n >= 2 {
			status = "valid"
		}
		_ = json.NewEncoder(w).Encode(checkStatusResp{Status: status})
	})

	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		_ = json.NewEncoder(w).Encode(struct{}{})
	})

	mux.HandleFunc("/order/1", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		n := atomic.AddInt64(&m.orderPolls, 1)
		if n < 2 {
			_ = json.NewEncoder(w).Encode(order{Status: "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(order{Status: "valid", CertificateURL: m.url("/cert/1")})
	})

	mux.HandleFunc("/cert/1", func(w http.ResponseWriter, r *http.Request) {
		m.setNonce(w)
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		_, _ = w.Write(m.certPEM)
	})

	m.srv = httptest.NewServer(mux)
	return m
}

func (m *mockACME) url(p string) string { return m.srv.URL + p }

func (m *mockACME) setNonce(w http.ResponseWriter) {
	n := atomic.AddInt64(&m.nonceCounter, 1)
	w.Header().Set("Replay-Nonce", fmt.Sprintf("nonce-%d", n))
}

func selfSignedPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	attest.Ok(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	attest.Ok(t, err)

	return pemEncodeCert(der)
}

func pemEncodeCert(der []byte) []byte {
	return []byte("-----BEGIN CERTIFICATE-----\n" + b64Lines(der) + "-----END CERTIFICATE-----\n")
}

func b64Lines(der []byte) string {
	const lineLen = 64
	full := base64.StdEncoding.EncodeToString(der)
	var out []byte
	for i := 0; i < len(full); i += lineLen {
		end := i + lineLen
		if end > len(full) {
			end = len(full)
		}
		out = append(out, full[i:end]...)
		out = append(out, '\n')
	}
	return string(out)
}

func TestHappyPathECSingleDomainHTTP01(t *testing.T) {
	t.Parallel()

	m := newMockACME(t)
	defer m.srv.Close()

	entryCert := parseSelfSignedForNames(t, "example.com")
	binding := &certstore.Binding{}
	entry := &certstore.Entry{
		Path:           "example.com",
		ACMEConfigName: "test",
		Cert:           entryCert,
		Bindings:       []*certstore.Binding{binding},
	}
	store := certstore.New()
	store.Put(entry)

	acctKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	attest.Ok(t, err)

	cfg := &Config{
		Name:         "test",
		DirectoryURL: m.url("/directory"),
		Challenge:    ChallengeHTTP01,
		LeafKey:      LeafKeyPolicy{Type: LeafKeyEC, Curve: "P-256"},
		key:          ecAccountKey(acctKey),
	}
	reg := NewRegistry()
	attest.Ok(t, reg.Register(cfg))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rn := &Renewer{
		Registry: reg,
		Store:    store,
		Runtime:  task.New(2),
		Driver:   httpstep.New(5*time.Second, logger),
		Log:      logger,
	}

	attest.Ok(t, rn.Renew("example.com"))

	waitForRuntime(t, rn.Runtime)

	attest.True(t, store.TryLock())
	installed, ok := store.Lookup("example.com")
	store.Unlock()
	attest.True(t, ok)
	attest.NotZero(t, installed.Cert.Certificate)
	attest.Equal(t, len(installed.Bindings), 1)
}

func parseSelfSignedForNames(t *testing.T, names ...string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	attest.Ok(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	attest.Ok(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func waitForRuntime(t *testing.T, rt *task.Runtime) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("renewal did not complete in time")
	}
}
