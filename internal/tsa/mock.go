package tsa

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/hhrutter/pkcs7"
	"github.com/jonboulle/clockwork"
)

// MockTSA is a deterministic, in-process Requester for tests: it signs
// TSTInfo with its own key/certificate and stamps GenTime from a
// clockwork.Clock, so golden fixtures stay reproducible (spec.md §8's
// "signing determinism mod time" invariant extended to the time-stamp
// layer).
type MockTSA struct {
	Key    *rsa.PrivateKey
	Cert   *x509.Certificate
	Clock  clockwork.Clock
	Hash   crypto.Hash
	serial int64
}

// NewMockTSA builds a MockTSA from a signing key/certificate pair (the
// certificate should carry the ExtKeyUsageTimeStamping extended key
// usage for Validate's chain check to accept it).
func NewMockTSA(key *rsa.PrivateKey, cert *x509.Certificate, clock clockwork.Clock) *MockTSA {
	return &MockTSA{Key: key, Cert: cert, Clock: clock, Hash: crypto.SHA256}
}

// RequestTimeStamp implements Requester by building and self-signing a
// TSTInfo over imprint.
func (m *MockTSA) RequestTimeStamp(imprint MessageImprint) ([]byte, error) {
	m.serial++

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         asn1.ObjectIdentifier{0, 4, 0, 2023, 1, 1},
		MessageImprint: imprint,
		SerialNumber:   asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagInteger, Bytes: big.NewInt(m.serial).Bytes()},
		GenTime:        m.Clock.Now().UTC(),
		Ordering:       false,
	}

	content, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, fmt.Errorf("tsa: marshal TSTInfo: %w", err)
	}

	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("tsa: init SignedData: %w", err)
	}
	if err := signedData.AddSigner(m.Cert, m.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("tsa: sign TSTInfo: %w", err)
	}

	return signedData.Finish()
}
