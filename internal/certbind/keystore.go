package certbind

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/lou-perret/xml-signer/internal/dsig"
)

// LoadedCertificate is the result of loading a signer's key material: the
// private key, leaf certificate, and (when present in the source file) the
// issuing CA chain, grounded on l-d-t-fiskalhrgo/cert.go's certManager
// (which separates the leaf from any CA certs bundled in the same .p12).
type LoadedCertificate struct {
	PrivateKey *rsa.PrivateKey
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate
}

// Expired reports whether the leaf certificate's validity window has
// already closed as of now.
func (lc *LoadedCertificate) Expired(now time.Time) bool {
	return now.After(lc.Leaf.NotAfter)
}

// LoadFromP12 decodes a PKCS#12 (.p12/.pfx) file into a LoadedCertificate,
// following l-d-t-fiskalhrgo/cert.go's decodeP12Cert: pkcs12.ToPEM splits
// the archive into PEM blocks, the non-CA certificate becomes the leaf,
// and any CA-flagged certificates become the chain.
func LoadFromP12(path, password string) (*LoadedCertificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certbind: read p12: %w", err)
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("certbind: decode p12: %w", err)
	}

	var key *rsa.PrivateKey
	var leaf *x509.Certificate
	var chain []*x509.Certificate

	for _, block := range blocks {
		switch block.Type {
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				rsaKey, err2 := x509.ParsePKCS1PrivateKey(block.Bytes)
				if err2 != nil {
					return nil, fmt.Errorf("certbind: parse private key (tried PKCS8 and PKCS1): %w", err)
				}
				key = rsaKey
				continue
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("certbind: private key is not RSA")
			}
			key = rsaKey
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("certbind: parse certificate: %w", err)
			}
			if cert.IsCA {
				chain = append(chain, cert)
			} else {
				leaf = cert
			}
		}
	}

	if key == nil {
		return nil, fmt.Errorf("certbind: no private key found in %s", path)
	}
	if leaf == nil {
		return nil, fmt.Errorf("certbind: no leaf certificate found in %s", path)
	}

	return &LoadedCertificate{PrivateKey: key, Leaf: leaf, Chain: chain}, nil
}

// LoadFromPEM loads key material from PEM files, following
// jhoicas-Inventario-api's signer.LoadFromPEM: certPath/keyPath may be the
// same file (combined PEM) or separate cert/key files.
func LoadFromPEM(certPath, keyPath string) (*LoadedCertificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	tlsCert, err := loadX509KeyPairChain(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certbind: load PEM: %w", err)
	}
	return tlsCert, nil
}

// loadX509KeyPairChain wraps tls.LoadX509KeyPair (the stdlib loader both
// pack examples delegate to for the plain-PEM case) and hands the result to
// dsig.TLSCertKeyStore to get every DER certificate in the chain parsed into
// a *x509.Certificate, since tls.Certificate only guarantees a parsed Leaf.
func loadX509KeyPairChain(certPath, keyPath string) (*LoadedCertificate, error) {
	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	ks := dsig.TLSCertKeyStore(tlsCert)
	rsaKey, leaf, err := ks.GetKeyPair()
	if err != nil {
		return nil, fmt.Errorf("certbind: %w", err)
	}
	chain, err := ks.GetChain()
	if err != nil {
		return nil, fmt.Errorf("certbind: parse certificate chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certbind: no certificates found")
	}

	return &LoadedCertificate{PrivateKey: rsaKey, Leaf: leaf, Chain: chain[1:]}, nil
}

// AsKeyStore adapts a LoadedCertificate to internal/dsig's X509KeyStore
// (and X509ChainStore, when a chain was loaded), so it plugs directly
// into SigningContext.KeyStore.
func (lc *LoadedCertificate) AsKeyStore() *dsig.MemoryX509KeyStore {
	ks := dsig.NewMemoryX509KeyStore(lc.PrivateKey, lc.Leaf.Raw)
	if len(lc.Chain) > 0 {
		ks.Issuer = lc.Chain[0].Raw
	}
	return ks
}

// FullChain returns the leaf followed by any issuing CA certificates, in
// the order certbind.BuildChain expects.
func (lc *LoadedCertificate) FullChain() []*x509.Certificate {
	out := make([]*x509.Certificate, 0, 1+len(lc.Chain))
	out = append(out, lc.Leaf)
	out = append(out, lc.Chain...)
	return out
}
