package dsig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"
)

// X509KeyStore is the signing collaborator: anything that can hand back a
// private key and the certificate bound to it. Production callers wire
// internal/certbind's PKCS#12/PEM loaders into this interface.
type X509KeyStore interface {
	GetKeyPair() (privateKey *rsa.PrivateKey, cert *x509.Certificate, err error)
}

// X509ChainStore is implemented by key stores that also know their issuer
// chain. The XAdES orchestrator adds those certificates as extra
// SigningCertificateV2 <Cert> entries, and FinishSignatureAround adds
// them to KeyInfo.
type X509ChainStore interface {
	GetChain() (certs []*x509.Certificate, err error)
}

// X509CertificateStore supplies the trusted roots a verifier checks a
// signer's certificate against.
type X509CertificateStore interface {
	Certificates() (roots []*x509.Certificate, err error)
}

// MemoryX509CertificateStore is a fixed, in-memory X509CertificateStore.
type MemoryX509CertificateStore struct {
	Roots []*x509.Certificate
}

// Certificates returns the configured roots.
func (mX509cs *MemoryX509CertificateStore) Certificates() ([]*x509.Certificate, error) {
	return mX509cs.Roots, nil
}

// MemoryX509KeyStore is a fixed, in-memory X509KeyStore, used for tests
// and for callers who have already loaded key material (e.g. from
// internal/certbind).
type MemoryX509KeyStore struct {
	PrivateKey *rsa.PrivateKey
	Cert       []byte
	Issuer     []byte // optional, DER-encoded issuer certificate
}

// NewMemoryX509KeyStore wraps an already-loaded key pair.
func NewMemoryX509KeyStore(key *rsa.PrivateKey, certDER []byte) *MemoryX509KeyStore {
	return &MemoryX509KeyStore{PrivateKey: key, Cert: certDER}
}

// GetKeyPair implements X509KeyStore.
func (ks *MemoryX509KeyStore) GetKeyPair() (*rsa.PrivateKey, *x509.Certificate, error) {
	cert, err := x509.ParseCertificate(ks.Cert)
	if err != nil {
		return nil, nil, err
	}
	return ks.PrivateKey, cert, nil
}

// GetChain implements X509ChainStore when an issuer certificate was
// supplied.
func (ks *MemoryX509KeyStore) GetChain() ([]*x509.Certificate, error) {
	if ks.Issuer == nil {
		return nil, nil
	}
	issuer, err := x509.ParseCertificate(ks.Issuer)
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{issuer}, nil
}

// RandomKeyStoreForTest generates a self-signed 2048-bit RSA test
// identity. The teacher's original used 1024 bits; bumped here since
// modern Go toolchains flag sub-2048-bit RSA as weak even for
// throwaway test material.
func RandomKeyStoreForTest() X509KeyStore {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	now := time.Now()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "xml-signer test certificate"},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(365 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{},
		BasicConstraintsValid: true,
	}

	cert, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	return &MemoryX509KeyStore{
		PrivateKey: key,
		Cert:       cert,
	}
}
