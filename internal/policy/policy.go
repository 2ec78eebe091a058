// Package policy implements the strategy pattern spec.md §9 calls for in
// place of the source's deep inheritance hierarchy: a small interface
// callers plug into the XAdES orchestrator to decide a signature's
// policy identifier and to validate it (implied or explicit) on verify.
// Grounded on jhoicas-Inventario-api's signer/constants.go
// (SignaturePolicyURLV2/SigPolicyHashDigest, a fixed-policy-URL EPES
// setup) for the one non-empty Strategy this package ships.
package policy

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"

	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// Strategy is the pluggable policy behavior the XAdES orchestrator (C6)
// consults when building SignedSignatureProperties and when validating
// one on verify. The default strategy is empty, per spec.md §9.
type Strategy interface {
	// PolicyIdentifier returns the SignaturePolicyIdentifier to embed at
	// signing time, or nil for SignaturePolicyImplied.
	PolicyIdentifier(hash crypto.Hash) (*xmltree.SignaturePolicyIdentifier, error)
	// ValidateImplied is invoked on verify when the signed properties
	// declare SignaturePolicyImplied.
	ValidateImplied(sp *xmltree.SignedProperties) error
	// ValidateExplicit is invoked on verify when the signed properties
	// declare an explicit SignaturePolicyId; policyDoc is the fetched
	// policy document bytes (nil if unavailable, which the strategy may
	// treat as PolicyMissing or accept, depending on policy).
	ValidateExplicit(sp *xmltree.SignedProperties, policyDoc []byte) error
	// SignatureFilename returns the output filename for a signature
	// given a caller-supplied save location and name (spec.md §4.6:
	// "filename auto-appended with .xml if extension missing").
	SignatureFilename(saveLocation, saveName string) string
	// PolicyDocumentURL returns the URL to fetch the policy document
	// from, given the policy identifier, or "" if none is known.
	PolicyDocumentURL(identifier string) string
}

// DefaultStrategy implements Strategy with no policy at all: signatures
// are produced with SignaturePolicyImplied, and the only validation
// performed on verify is structural (spec.md §9: "The default strategy
// is empty").
type DefaultStrategy struct{}

// PolicyIdentifier implements Strategy: no explicit policy.
func (DefaultStrategy) PolicyIdentifier(crypto.Hash) (*xmltree.SignaturePolicyIdentifier, error) {
	return nil, nil
}

// ValidateImplied implements Strategy: nothing to check.
func (DefaultStrategy) ValidateImplied(*xmltree.SignedProperties) error { return nil }

// ValidateExplicit implements Strategy: the default strategy never
// produces an explicit policy, but still accepts one found on verify
// without further checking (policy validation is out of scope for the
// empty strategy).
func (DefaultStrategy) ValidateExplicit(*xmltree.SignedProperties, []byte) error { return nil }

// SignatureFilename implements Strategy with the spec.md §6 default.
func (DefaultStrategy) SignatureFilename(saveLocation, saveName string) string {
	return defaultFilename(saveLocation, saveName)
}

// PolicyDocumentURL implements Strategy: none known.
func (DefaultStrategy) PolicyDocumentURL(string) string { return "" }

// EPESStrategy implements a fixed explicit policy (XAdES-EPES): every
// signature carries the same SignaturePolicyId and SigPolicyHash,
// mirroring jhoicas-Inventario-api's DIAN constants
// (SignaturePolicyURLV2/SigPolicyHashDigest).
type EPESStrategy struct {
	Identifier   string
	DocumentURL  string
	DigestMethod string
	DigestValue  []byte
}

// PolicyIdentifier implements Strategy with the fixed policy.
func (e EPESStrategy) PolicyIdentifier(crypto.Hash) (*xmltree.SignaturePolicyIdentifier, error) {
	if e.Identifier == "" {
		return nil, fmt.Errorf("policy: EPESStrategy has no Identifier configured")
	}
	return &xmltree.SignaturePolicyIdentifier{
		Identifier:   e.Identifier,
		DigestMethod: e.DigestMethod,
		DigestValue:  e.DigestValue,
	}, nil
}

// ValidateImplied implements Strategy: an EPES signer should never
// accept an implied policy on verify.
func (e EPESStrategy) ValidateImplied(*xmltree.SignedProperties) error {
	return fmt.Errorf("policy: EPES strategy requires an explicit SignaturePolicyId, found SignaturePolicyImplied")
}

// ValidateExplicit implements Strategy, checking the policy identifier
// and the policy document's digest. A nil policyDoc is an error: the
// digest check is never skipped.
//
// The comparison here is `!bytes.Equal(...)`, the corrected form of the
// source's "$policyDigest !== $digest" per spec.md §9's redesign-flag 2
// (the source's "! $policyDigest == $digest" is always true due to
// operator precedence).
func (e EPESStrategy) ValidateExplicit(sp *xmltree.SignedProperties, policyDoc []byte) error {
	pol := sp.SignatureProps.Policy
	if pol == nil || pol.Implied {
		return fmt.Errorf("policy: expected explicit SignaturePolicyId %q", e.Identifier)
	}
	if e.Identifier != "" && pol.Identifier != e.Identifier {
		return fmt.Errorf("policy: unexpected policy identifier %q (want %q)", pol.Identifier, e.Identifier)
	}
	if policyDoc == nil {
		return fmt.Errorf("policy: policy document unavailable for digest check")
	}
	h, ok := hashForMethod(pol.DigestMethod)
	if !ok {
		return fmt.Errorf("policy: unsupported policy digest method %q", pol.DigestMethod)
	}
	sum := h.New()
	sum.Write(policyDoc)
	if !bytes.Equal(sum.Sum(nil), pol.DigestValue) {
		return fmt.Errorf("policy: policy document digest mismatch")
	}
	return nil
}

// SignatureFilename implements Strategy with the spec.md §6 default.
func (e EPESStrategy) SignatureFilename(saveLocation, saveName string) string {
	return defaultFilename(saveLocation, saveName)
}

// PolicyDocumentURL implements Strategy with the fixed document URL.
func (e EPESStrategy) PolicyDocumentURL(string) string {
	return e.DocumentURL
}

func defaultFilename(saveLocation, saveName string) string {
	name := saveName
	if name == "" {
		name = "signature"
	}
	if !hasXMLExt(name) {
		name += ".xml"
	}
	if saveLocation == "" {
		return name
	}
	sep := "/"
	if len(saveLocation) > 0 && saveLocation[len(saveLocation)-1] == '/' {
		sep = ""
	}
	return saveLocation + sep + name
}

func hasXMLExt(name string) bool {
	return len(name) >= 4 && name[len(name)-4:] == ".xml"
}

func hashForMethod(uri string) (crypto.Hash, bool) {
	switch uri {
	case "http://www.w3.org/2000/09/xmldsig#sha1":
		return crypto.SHA1, true
	case "http://www.w3.org/2001/04/xmlenc#sha256":
		return crypto.SHA256, true
	case "http://www.w3.org/2001/04/xmldsig-more#sha384":
		return crypto.SHA384, true
	case "http://www.w3.org/2001/04/xmlenc#sha512":
		return crypto.SHA512, true
	default:
		return 0, false
	}
}
