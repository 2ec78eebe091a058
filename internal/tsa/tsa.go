package tsa

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/hhrutter/pkcs7"
)

// Requester obtains a TimeStampToken (a DER-encoded PKCS#7 SignedData
// wrapping a TSTInfo) covering imprint from a time-stamp authority. Real
// implementations speak RFC 3161 over HTTP; tests use MockTSA.
type Requester interface {
	RequestTimeStamp(imprint MessageImprint) (token []byte, err error)
}

// Attach requests a timestamp token over data's digest and returns the
// DER bytes to embed as SignatureTimeStamp/EncapsulatedTimeStamp
// (spec.md §4.6). The digest algorithm matches the signature's own hash
// so the imprint binds to the same value a verifier recomputes.
func Attach(requester Requester, hash crypto.Hash, data []byte) ([]byte, error) {
	imprint, err := BuildMessageImprint(hash, data)
	if err != nil {
		return nil, err
	}
	token, err := requester.RequestTimeStamp(imprint)
	if err != nil {
		return nil, fmt.Errorf("tsa: request time-stamp: %w", err)
	}
	return token, nil
}

// Result reports the outcome of validating an embedded timestamp token.
type Result struct {
	GenTime time.Time
	TSACert *x509.Certificate
	Imprint MessageImprint
	// DigestURI is the XML-DSig digest algorithm URI matching the
	// imprint's hash, for callers that want to log or display it
	// without decoding the raw ASN.1 OID themselves.
	DigestURI string
}

// ErrInconclusive wraps a validation failure that spec.md's Kind taxonomy
// classifies as TimestampInconclusive (the one non-fatal error kind): the
// token's own digest/signature checked out, but nothing established trust
// in the issuing TSA (no root pool supplied, or the chain didn't build).
type ErrInconclusive struct {
	Reason string
}

func (e *ErrInconclusive) Error() string {
	return fmt.Sprintf("tsa: inconclusive: %s", e.Reason)
}

// Validate parses token, checks that its MessageImprint matches data
// hashed with the algorithm the token itself declares (the hash argument
// is not consulted), verifies the PKCS#7 signature over TSTInfo, and
// (when roots is non-nil)
// checks the TSA certificate chains to a trusted root. Grounded on
// pdfcpu's dts.go ValidateDTS/checkDTSDigest flow.
func Validate(token []byte, hash crypto.Hash, data []byte, roots *x509.CertPool) (*Result, error) {
	p7, err := pkcs7.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("tsa: parse TimeStampToken: %w", err)
	}

	var tstInfo TSTInfo
	if _, err := asn1.Unmarshal(p7.Content, &tstInfo); err != nil {
		return nil, fmt.Errorf("tsa: parse TSTInfo: %w", err)
	}

	wantHash, ok := hashForOID(tstInfo.MessageImprint.HashAlgorithm.Algorithm)
	if !ok {
		return nil, fmt.Errorf("tsa: TSTInfo uses an unsupported hash algorithm")
	}
	gotImprint, err := BuildMessageImprint(wantHash, data)
	if err != nil {
		return nil, err
	}
	if string(gotImprint.HashedMessage) != string(tstInfo.MessageImprint.HashedMessage) {
		return nil, fmt.Errorf("tsa: message imprint does not match the timestamped data")
	}

	if len(p7.Signers) == 0 {
		return nil, fmt.Errorf("tsa: TimeStampToken has no signers")
	}
	p7Signer := p7.Signers[0]

	signerCert := pkcs7.GetCertFromCertsByIssuerAndSerial(p7.Certificates, p7Signer.IssuerAndSerialNumber)
	if signerCert == nil {
		return nil, fmt.Errorf("tsa: signer certificate not found among TimeStampToken certificates")
	}
	if err := pkcs7.CheckSignature(signerCert, p7Signer, nil); err != nil {
		return nil, fmt.Errorf("tsa: signature verification failed: %w", err)
	}

	digestURI, _ := digestAlgorithmURI(wantHash)
	result := &Result{GenTime: tstInfo.GenTime, TSACert: signerCert, Imprint: tstInfo.MessageImprint, DigestURI: digestURI}

	if roots == nil {
		return result, &ErrInconclusive{Reason: "no trusted root pool supplied for the TSA chain"}
	}

	intermediates := x509.NewCertPool()
	for _, cert := range p7.Certificates {
		if !cert.Equal(signerCert) {
			intermediates.AddCert(cert)
		}
	}
	if _, err := signerCert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   tstInfo.GenTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}); err != nil {
		return result, &ErrInconclusive{Reason: fmt.Sprintf("TSA certificate chain did not validate: %v", err)}
	}

	return result, nil
}
