package dsig

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lou-perret/xml-signer/internal/canon"
)

// ValidationContext implements the verify half of C4: locating the
// <ds:Signature>, validating its References, and checking the
// SignatureValue. Authored fresh — the teacher pack retained only this
// package's test file for the original ValidationContext, not its
// implementation (see DESIGN.md) — grounded on the goxmldsig vendor
// validate.go dump retrieved under other_examples/.
type ValidationContext struct {
	CertificateStore X509CertificateStore
	IdAttribute      string
	Clock            *Clock
}

// NewDefaultValidationContext builds a context using the default Id
// attribute and the real clock.
func NewDefaultValidationContext(store X509CertificateStore) *ValidationContext {
	return &ValidationContext{
		CertificateStore: store,
		IdAttribute:      DefaultIDAttr,
		Clock:            NewRealClock(),
	}
}

var (
	// ErrMissingSignature is returned when no <ds:Signature> descendant
	// could be located.
	ErrMissingSignature = errors.New("dsig: signature not found")
	// ErrMissingReference is returned when a <Reference> element is
	// missing its DigestMethod/DigestValue children.
	ErrMissingReference = errors.New("dsig: reference missing digest")
)

// FindSignature returns the first <ds:Signature> descendant of el
// (including el itself).
func FindSignature(el *etree.Element) (*etree.Element, error) {
	if isSignature(el) {
		return el, nil
	}
	for _, child := range el.ChildElements() {
		if sig, err := FindSignature(child); err == nil {
			return sig, nil
		}
	}
	return nil, ErrMissingSignature
}

func isSignature(el *etree.Element) bool {
	return el.Tag == SignatureTag && (el.NamespaceURI() == Namespace || el.NamespaceURI() == "")
}

func firstChild(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func allChildren(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// canonicalizerForAlgorithm resolves a canonicalization algorithm URI
// (as declared in a CanonicalizationMethod/Transform element) to a
// canon.Canonicalizer.
func canonicalizerForAlgorithm(algo string, prefixList []string) (canon.Canonicalizer, error) {
	return canon.FromAlgorithmID(canon.AlgorithmID(algo), prefixList)
}

// removeSignatures returns a deep copy of el with every nested
// <ds:Signature> removed — the enveloped-signature transform.
func removeSignatures(el *etree.Element) *etree.Element {
	cp := el.Copy()
	var toRemove []*etree.Element
	for _, c := range cp.ChildElements() {
		if isSignature(c) {
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		cp.RemoveChild(c)
	}
	for _, c := range cp.ChildElements() {
		removeSignaturesInPlace(c)
	}
	return cp
}

func removeSignaturesInPlace(el *etree.Element) {
	var toRemove []*etree.Element
	for _, c := range el.ChildElements() {
		if isSignature(c) {
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range toRemove {
		el.RemoveChild(c)
	}
	for _, c := range el.ChildElements() {
		removeSignaturesInPlace(c)
	}
}

// findByID returns the element carrying ctx.IdAttribute == id, searching
// root and its descendants.
func findByID(root *etree.Element, idAttr, id string) *etree.Element {
	if root.SelectAttrValue(idAttr, "") == id {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, idAttr, id); found != nil {
			return found
		}
	}
	return nil
}

// ResolveReferenceTarget resolves a Reference's @URI against doc: empty
// URI means the whole document, "#id" means a same-document fragment
// matched by ctx.IdAttribute.
func (ctx *ValidationContext) ResolveReferenceTarget(doc *etree.Element, ref *etree.Element) (*etree.Element, error) {
	uri := ref.SelectAttrValue(URIAttr, "")
	if uri == "" {
		return doc, nil
	}
	if uri[0] != '#' {
		return nil, fmt.Errorf("dsig: external reference URIs are not resolved by this package: %s", uri)
	}
	id := uri[1:]
	target := findByID(doc, ctx.idAttribute(), id)
	if target == nil {
		return nil, fmt.Errorf("dsig: reference target #%s not found", id)
	}
	return target, nil
}

func (ctx *ValidationContext) idAttribute() string {
	if ctx.IdAttribute == "" {
		return DefaultIDAttr
	}
	return ctx.IdAttribute
}

// Transform applies the Transforms listed in ref, in order, and returns
// the resulting element plus the canonicalizer identified by the last
// (canonicalization) transform.
func (ctx *ValidationContext) Transform(doc *etree.Element, sig *etree.Element, ref *etree.Element) (*etree.Element, canon.Canonicalizer, error) {
	target, err := ctx.ResolveReferenceTarget(doc, ref)
	if err != nil {
		return nil, nil, err
	}

	transformsEl := firstChild(ref, TransformsTag)
	var canonicalizer canon.Canonicalizer
	working := target
	if transformsEl != nil {
		for _, t := range allChildren(transformsEl, TransformTag) {
			algo := t.SelectAttrValue(AlgorithmAttr, "")
			switch canon.AlgorithmID(algo) {
			case canon.AlgorithmID(EnvelopedSignatureAltorithmID):
				working = removeSignatures(working)
			default:
				var prefixList []string
				c, err := canonicalizerForAlgorithm(algo, prefixList)
				if err != nil {
					return nil, nil, err
				}
				canonicalizer = c
			}
		}
	}
	if canonicalizer == nil {
		return nil, nil, fmt.Errorf("dsig: reference has no canonicalization transform")
	}
	return working, canonicalizer, nil
}

// ValidateReference recomputes ref's digest and compares it against the
// stored DigestValue, returning an error on any mismatch (spec.md §4.3:
// fatal ReferenceDigestMismatch).
func (ctx *ValidationContext) ValidateReference(doc *etree.Element, sig *etree.Element, ref *etree.Element) error {
	target, canonicalizer, err := ctx.Transform(doc, sig, ref)
	if err != nil {
		return err
	}

	dmEl := firstChild(ref, DigestMethodTag)
	dvEl := firstChild(ref, DigestValueTag)
	if dmEl == nil || dvEl == nil {
		return ErrMissingReference
	}
	hash, ok := digestAlgorithmsByIdentifier[dmEl.SelectAttrValue(AlgorithmAttr, "")]
	if !ok {
		return fmt.Errorf("dsig: unsupported digest method %q", dmEl.SelectAttrValue(AlgorithmAttr, ""))
	}

	computed, err := canon.Digest(canonicalizer, target, hash)
	if err != nil {
		return err
	}

	expected, err := base64.StdEncoding.DecodeString(dvEl.Text())
	if err != nil {
		return fmt.Errorf("dsig: invalid DigestValue base64: %w", err)
	}

	if !bytesEqual(computed, expected) {
		return fmt.Errorf("dsig: reference digest mismatch for URI %q", ref.SelectAttrValue(URIAttr, ""))
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// VerifyCertificate extracts the signer certificate from sig's KeyInfo,
// checks it is within its validity window at ctx.Clock.Now() and, if a
// CertificateStore with at least one root is configured, checks it is
// among the trusted roots.
func (ctx *ValidationContext) VerifyCertificate(sig *etree.Element) (*x509.Certificate, error) {
	keyInfo := firstChild(sig, KeyInfoTag)
	if keyInfo == nil {
		return nil, fmt.Errorf("dsig: missing KeyInfo")
	}
	x509Data := firstChild(keyInfo, X509DataTag)
	if x509Data == nil {
		return nil, fmt.Errorf("dsig: missing X509Data")
	}
	certEl := firstChild(x509Data, X509CertificateTag)
	if certEl == nil {
		return nil, fmt.Errorf("dsig: missing X509Certificate")
	}
	raw, err := base64.StdEncoding.DecodeString(certEl.Text())
	if err != nil {
		return nil, fmt.Errorf("dsig: invalid X509Certificate base64: %w", err)
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("dsig: parse signer certificate: %w", err)
	}

	now := ctx.Clock.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("dsig: signer certificate not valid at %s", now)
	}

	if ctx.CertificateStore != nil {
		roots, err := ctx.CertificateStore.Certificates()
		if err != nil {
			return nil, err
		}
		if len(roots) > 0 && !containsCert(roots, cert) {
			return nil, fmt.Errorf("dsig: signer certificate is not a trusted root")
		}
	}

	return cert, nil
}

func containsCert(roots []*x509.Certificate, cert *x509.Certificate) bool {
	for _, r := range roots {
		if r.Equal(cert) {
			return true
		}
	}
	return false
}

// VerifySignedInfo re-canonicalizes sig's <SignedInfo> using the
// algorithm it declares and verifies <SignatureValue> against cert.
func (ctx *ValidationContext) VerifySignedInfo(sig *etree.Element, cert *x509.Certificate) error {
	signedInfo := firstChild(sig, SignedInfoTag)
	if signedInfo == nil {
		return fmt.Errorf("dsig: missing SignedInfo")
	}
	cm := firstChild(signedInfo, CanonicalizationMethodTag)
	if cm == nil {
		return fmt.Errorf("dsig: missing CanonicalizationMethod")
	}
	canonicalizer, err := canonicalizerForAlgorithm(cm.SelectAttrValue(AlgorithmAttr, ""), nil)
	if err != nil {
		return err
	}

	sm := firstChild(signedInfo, SignatureMethodTag)
	if sm == nil {
		return fmt.Errorf("dsig: missing SignatureMethod")
	}
	hash, ok := signatureMethodsByIdentifier[sm.SelectAttrValue(AlgorithmAttr, "")]
	if !ok {
		return fmt.Errorf("dsig: unsupported SignatureMethod %q", sm.SelectAttrValue(AlgorithmAttr, ""))
	}

	digest, err := canon.Digest(canonicalizer, signedInfo, hash)
	if err != nil {
		return err
	}

	sv := firstChild(sig, SignatureValueTag)
	if sv == nil {
		return fmt.Errorf("dsig: missing SignatureValue")
	}
	decoded, err := base64.StdEncoding.DecodeString(sv.Text())
	if err != nil {
		return fmt.Errorf("dsig: invalid SignatureValue base64: %w", err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("dsig: signer certificate does not carry an RSA public key")
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, decoded); err != nil {
		return fmt.Errorf("dsig: signature value invalid: %w", err)
	}
	return nil
}

// Validate runs the full C4 verification flow over doc: find the
// signature, verify the certificate, validate every Reference, then
// verify SignatureValue. Returns the located <ds:Signature> element for
// callers (the XAdES orchestrator) that need to continue with
// XAdES-specific checks.
func (ctx *ValidationContext) Validate(doc *etree.Element) (*etree.Element, error) {
	sig, err := FindSignature(doc)
	if err != nil {
		return nil, err
	}

	cert, err := ctx.VerifyCertificate(sig)
	if err != nil {
		return nil, err
	}

	signedInfo := firstChild(sig, SignedInfoTag)
	if signedInfo == nil {
		return nil, fmt.Errorf("dsig: missing SignedInfo")
	}
	for _, ref := range allChildren(signedInfo, ReferenceTag) {
		if err := ctx.ValidateReference(doc, sig, ref); err != nil {
			return nil, err
		}
	}

	if err := ctx.VerifySignedInfo(sig, cert); err != nil {
		return nil, err
	}

	return sig, nil
}
