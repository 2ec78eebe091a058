package certbind

import (
	"bytes"
	"crypto"
	"crypto/x509"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"fmt"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// Build constructs a SigningCertificateV2 binding the signer's certificate
// to the SignedSignatureProperties, per spec.md §3/§4.5: a CertDigest over
// the DER certificate plus an IssuerSerialV2 tying the digest to the
// issuer/serial pair so a substituted certificate with a colliding digest
// (practically impossible, but the binding exists regardless) is still
// caught by the issuer/serial check.
func Build(cert *x509.Certificate, hash crypto.Hash) (*xmltree.SigningCertificateV2, error) {
	return BuildChain(hash, []*x509.Certificate{cert})
}

// BuildChain extends Build to a full certificate chain, one <Cert> entry
// per certificate, signer first — spec.md §4.5's "MAY include the full
// chain" option.
func BuildChain(hash crypto.Hash, chain []*x509.Certificate) (*xmltree.SigningCertificateV2, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("certbind: empty certificate chain")
	}
	digestURI, ok := canon.DigestAlgorithmURIs[hash]
	if !ok {
		return nil, fmt.Errorf("certbind: unsupported digest algorithm %v", hash)
	}

	out := &xmltree.SigningCertificateV2{}
	for _, cert := range chain {
		h := hash.New()
		h.Write(cert.Raw)

		issuerSerial, err := EncodeIssuerSerialV2(cert)
		if err != nil {
			return nil, err
		}

		out.Certs = append(out.Certs, xmltree.CertV2{
			Digest: xmltree.CertDigest{
				DigestMethod: digestURI,
				DigestValue:  h.Sum(nil),
			},
			IssuerSerialV2: issuerSerial,
		})
	}
	return out, nil
}

// MatchResult reports the outcome of comparing a SigningCertificateV2
// against the certificate actually used to verify the signature.
type MatchResult struct {
	Matched bool
	Reason  string
}

// Verify checks that cert is among the certificates bound by sc, comparing
// digest first, then (when present) issuer/serial — the CertificateBindingMismatch
// precedence spec.md §7/§8 requires: a digest mismatch is reported before
// an issuer/serial mismatch when both are wrong.
func Verify(sc *xmltree.SigningCertificateV2, cert *x509.Certificate) MatchResult {
	if sc == nil || len(sc.Certs) == 0 {
		return MatchResult{Matched: false, Reason: "no SigningCertificateV2 entries present"}
	}

	for _, entry := range sc.Certs {
		hash, ok := canon.HashForURI(entry.Digest.DigestMethod)
		if !ok {
			continue
		}
		h := hash.New()
		h.Write(cert.Raw)
		if !bytes.Equal(h.Sum(nil), entry.Digest.DigestValue) {
			continue
		}

		if len(entry.IssuerSerialV2) == 0 {
			return MatchResult{Matched: true}
		}

		issuerDN, serial, err := DecodeIssuerSerialV2(entry.IssuerSerialV2)
		if err != nil {
			return MatchResult{Matched: false, Reason: fmt.Sprintf("unreadable IssuerSerialV2: %v", err)}
		}
		if serial.Cmp(cert.SerialNumber) != 0 {
			return MatchResult{Matched: false, Reason: "certificate digest matches but serial number does not"}
		}
		if issuerDN != cert.Issuer.String() {
			return MatchResult{Matched: false, Reason: "certificate digest matches but issuer name does not"}
		}
		return MatchResult{Matched: true}
	}

	return MatchResult{Matched: false, Reason: "no entry's certificate digest matches the verifying certificate"}
}

// VerifyLegacy is the v1.1.1 SigningCertificate counterpart to Verify,
// accepted on verify only per spec.md §9 redesign-flag S6: legacy
// documents carrying xades:SigningCertificate instead of
// xades:SigningCertificateV2 are still verifiable, never produced by
// this implementation's signer.
func VerifyLegacy(sc *xmltree.SigningCertificate, cert *x509.Certificate) MatchResult {
	if sc == nil || len(sc.Certs) == 0 {
		return MatchResult{Matched: false, Reason: "no SigningCertificate entries present"}
	}

	for _, entry := range sc.Certs {
		hash, ok := canon.HashForURI(entry.Digest.DigestMethod)
		if !ok {
			continue
		}
		h := hash.New()
		h.Write(cert.Raw)
		if !bytes.Equal(h.Sum(nil), entry.Digest.DigestValue) {
			continue
		}
		if entry.SerialNumber != "" && entry.SerialNumber != cert.SerialNumber.String() {
			return MatchResult{Matched: false, Reason: "certificate digest matches but serial number does not"}
		}
		if entry.IssuerName != "" && entry.IssuerName != cert.Issuer.String() {
			return MatchResult{Matched: false, Reason: "certificate digest matches but issuer name does not"}
		}
		return MatchResult{Matched: true}
	}

	return MatchResult{Matched: false, Reason: "no entry's certificate digest matches the verifying certificate"}
}
