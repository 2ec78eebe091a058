package dsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	// implementing sha1, sha256, sha512 as verify-accepted hashes
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// SigningContext is a base structure for signing. It implements C4
// (SignedInfo/Signature Driver): building <SignedInfo>, canonicalizing
// it, and invoking the key-backed signer.
type SigningContext struct {
	Hash          crypto.Hash
	KeyStore      X509KeyStore
	IDAttribute   string
	Prefix        string
	Canonicalizer canon.Canonicalizer
}

// NewDefaultSigningContext creates a context matching spec.md §4.4's
// defaults: SHA-256 digest, RSA-SHA256 signature, C14N 1.1
// canonicalization.
func NewDefaultSigningContext(ks X509KeyStore) *SigningContext {
	return &SigningContext{
		Hash:          crypto.SHA256,
		KeyStore:      ks,
		IDAttribute:   DefaultIDAttr,
		Prefix:        DefaultPrefix,
		Canonicalizer: canon.MakeC14N11Canonicalizer(false),
	}
}

// NewExclusiveSigningContext creates a context that canonicalizes with
// Exclusive C14N instead of C14N 1.1, the variant most third-party
// XAdES verifiers expect for documents embedded in a larger envelope.
func NewExclusiveSigningContext(ks X509KeyStore) *SigningContext {
	return &SigningContext{
		Hash:          crypto.SHA256,
		KeyStore:      ks,
		IDAttribute:   DefaultIDAttr,
		Prefix:        DefaultPrefix,
		Canonicalizer: canon.MakeExclusiveCanonicalizer(nil, false),
	}
}

// SetSignatureMethod to set signature method.
func (ctx *SigningContext) SetSignatureMethod(algorithmID string) error {
	hash, ok := signatureMethodsByIdentifier[algorithmID]
	if !ok {
		return fmt.Errorf("dsig: unknown SignatureMethod: %s", algorithmID)
	}
	ctx.Hash = hash
	return nil
}

// digest canonicalizes and hashes el.
func (ctx *SigningContext) digest(el *etree.Element) ([]byte, error) {
	return canon.Digest(ctx.Canonicalizer, el, ctx.Hash)
}

// constructSignedInfo builds the etree for <SignedInfo>, with a single
// Reference over el (the XAdES orchestrator builds its two-reference
// SignedInfo with internal/refs and signs it with
// ConstructSignatureAround; this single-reference path remains for
// plain XML-DSig use and tests).
func (ctx *SigningContext) constructSignedInfo(el *etree.Element, enveloped bool) (*etree.Element, error) {
	digestAlgorithmIdentifier := ctx.GetDigestAlgorithmIdentifier()
	if digestAlgorithmIdentifier == "" {
		return nil, errors.New("dsig: unsupported hash mechanism")
	}

	signatureMethodIdentifier := ctx.GetSignatureMethodIdentifier()
	if signatureMethodIdentifier == "" {
		return nil, errors.New("dsig: unsupported signature method")
	}

	digest, err := ctx.digest(el)
	if err != nil {
		return nil, err
	}

	signedInfo := &etree.Element{
		Tag:   SignedInfoTag,
		Space: ctx.Prefix,
	}

	canonicalizationMethod := ctx.createNamespacedElement(signedInfo, CanonicalizationMethodTag)
	canonicalizationMethod.CreateAttr(AlgorithmAttr, string(ctx.Canonicalizer.Algorithm()))

	signatureMethod := ctx.createNamespacedElement(signedInfo, SignatureMethodTag)
	signatureMethod.CreateAttr(AlgorithmAttr, signatureMethodIdentifier)

	reference := ctx.createNamespacedElement(signedInfo, ReferenceTag)

	dataID := el.SelectAttrValue(ctx.IDAttribute, "")
	if dataID == "" {
		return nil, errors.New("dsig: missing data ID")
	}
	reference.CreateAttr(URIAttr, "#"+dataID)

	transforms := ctx.createNamespacedElement(reference, TransformsTag)
	if enveloped {
		envelopedTransform := ctx.createNamespacedElement(transforms, TransformTag)
		envelopedTransform.CreateAttr(AlgorithmAttr, EnvelopedSignatureAltorithmID.String())
	}
	canonicalizationAlgorithm := ctx.createNamespacedElement(transforms, TransformTag)
	canonicalizationAlgorithm.CreateAttr(AlgorithmAttr, string(ctx.Canonicalizer.Algorithm()))

	digestMethod := ctx.createNamespacedElement(reference, DigestMethodTag)
	digestMethod.CreateAttr(AlgorithmAttr, digestAlgorithmIdentifier)

	digestValue := ctx.createNamespacedElement(reference, DigestValueTag)
	digestValue.SetText(base64.StdEncoding.EncodeToString(digest))

	return signedInfo, nil
}

// ConstructSignatureWithReferences builds <Signature> from a caller-built
// <SignedInfo> (produced by internal/refs with the payload + XAdES
// SignedProperties references already in place per spec.md §4.4), then
// canonicalizes it using the namespace context in scope at el's final
// location, signs it, and attaches KeyInfo.
func (ctx *SigningContext) ConstructSignatureWithReferences(el *etree.Element, signedInfo *etree.Element) (*etree.Element, error) {
	sig := &etree.Element{
		Tag:   SignatureTag,
		Space: ctx.Prefix,
	}

	xmlns := "xmlns"
	if ctx.Prefix != "" {
		xmlns += ":" + ctx.Prefix
	}
	sig.CreateAttr(xmlns, Namespace)
	sig.AddChild(signedInfo)

	// When using a non-exclusive canonicalization algorithm the canonical
	// form of SignedInfo must declare all namespaces in scope at its
	// final enveloped location (spec.md §4.4). Cascade namespace context
	// from the element being signed, through the Signature we just
	// built, down to SignedInfo, then detach it there.
	rootNSCtx, err := xmltree.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	elNSCtx, err := rootNSCtx.SubContext(el)
	if err != nil {
		return nil, err
	}
	sigNSCtx, err := elNSCtx.SubContext(sig)
	if err != nil {
		return nil, err
	}
	detatchedSignedInfo, err := xmltree.NSDetatch(sigNSCtx, signedInfo)
	if err != nil {
		return nil, err
	}
	detatchedSignedInfo.RemoveAttr("xmlns:xsi")

	digest, err := ctx.digest(detatchedSignedInfo)
	if err != nil {
		return nil, err
	}

	key, cert, err := ctx.KeyStore.GetKeyPair()
	if err != nil {
		return nil, err
	}

	rawSignature, err := rsa.SignPKCS1v15(rand.Reader, key, ctx.Hash, digest)
	if err != nil {
		return nil, err
	}

	signatureValue := ctx.createNamespacedElement(sig, SignatureValueTag)
	signatureValue.SetText(base64.StdEncoding.EncodeToString(rawSignature))

	keyInfo := ctx.createNamespacedElement(sig, KeyInfoTag)
	x509Data := ctx.createNamespacedElement(keyInfo, X509DataTag)

	x509Certificate := ctx.createNamespacedElement(x509Data, X509CertificateTag)
	if sub := cert.Subject.String(); sub != "" {
		x509Subject := ctx.createNamespacedElement(x509Data, X509SubjectNameTag)
		x509Subject.SetText(sub)
	}
	x509Certificate.SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	return sig, nil
}

// ConstructSignature builds a single-reference <Signature> over el by
// building its SignedInfo and handing it to
// ConstructSignatureWithReferences. Kept for plain XML-DSig use; XAdES
// signing goes through the orchestrator, which builds SignedInfo with
// internal/refs first.
func (ctx *SigningContext) ConstructSignature(el *etree.Element, enveloped bool) (*etree.Element, error) {
	signedInfo, err := ctx.constructSignedInfo(el, enveloped)
	if err != nil {
		return nil, err
	}
	return ctx.ConstructSignatureWithReferences(el, signedInfo)
}

// PrepareSignedInfo canonicalizes signedInfo using the namespace context in
// scope at el's final location plus sig's own declarations (the same
// cascade ConstructSignatureWithReferences performs), returning the digest
// to hand to an external signer and the detached SignedInfo to re-attach
// once the signature comes back. This is the "separate entrypoint [that]
// returns the canonical <SignedInfo> bytes without signing" spec.md §4.4
// calls for (out-of-process/HSM signing); FinishSignatureAround completes
// the operation once the caller has the raw signature bytes.
func (ctx *SigningContext) PrepareSignedInfo(el *etree.Element, sig *etree.Element, signedInfo *etree.Element) (digest []byte, detached *etree.Element, err error) {
	rootNSCtx, err := xmltree.NSBuildParentContext(el)
	if err != nil {
		return nil, nil, err
	}
	elNSCtx, err := rootNSCtx.SubContext(el)
	if err != nil {
		return nil, nil, err
	}
	sigNSCtx, err := elNSCtx.SubContext(sig)
	if err != nil {
		return nil, nil, err
	}
	detached, err = xmltree.NSDetatch(sigNSCtx, signedInfo)
	if err != nil {
		return nil, nil, err
	}
	detached.RemoveAttr("xmlns:xsi")

	digest, err = ctx.digest(detached)
	if err != nil {
		return nil, nil, err
	}
	return digest, detached, nil
}

// FinishSignatureAround attaches a prepared (already-canonicalized)
// SignedInfo and an externally produced raw signature to sig, inserting
// <SignatureValue>/<KeyInfo> ahead of whatever children sig already
// carries (e.g. XAdES's <Object>).
func (ctx *SigningContext) FinishSignatureAround(sig *etree.Element, signedInfo *etree.Element, rawSignature []byte) error {
	_, cert, err := ctx.KeyStore.GetKeyPair()
	if err != nil {
		return err
	}

	signatureValue := &etree.Element{Tag: SignatureValueTag, Space: ctx.Prefix}
	signatureValue.SetText(base64.StdEncoding.EncodeToString(rawSignature))

	keyInfo := ctx.buildKeyInfo(cert)

	insertFront(sig, signedInfo, signatureValue, keyInfo)
	return nil
}

// ConstructSignatureAround assembles an already-built <Signature> element
// that may already carry caller-attached children (XAdES's <Object>, built
// ahead of time so its <SignedProperties> digests against its own final
// location) by inserting the caller-built <SignedInfo> as its first child,
// canonicalizing it, signing, and inserting <SignatureValue>/<KeyInfo>
// right after. Unlike ConstructSignatureWithReferences, sig is not created
// fresh: it is mutated in place.
func (ctx *SigningContext) ConstructSignatureAround(el *etree.Element, sig *etree.Element, signedInfo *etree.Element) error {
	digest, detached, err := ctx.PrepareSignedInfo(el, sig, signedInfo)
	if err != nil {
		return err
	}

	key, _, err := ctx.KeyStore.GetKeyPair()
	if err != nil {
		return err
	}
	rawSignature, err := rsa.SignPKCS1v15(rand.Reader, key, ctx.Hash, digest)
	if err != nil {
		return err
	}

	return ctx.FinishSignatureAround(sig, detached, rawSignature)
}

func (ctx *SigningContext) buildKeyInfo(cert *x509.Certificate) *etree.Element {
	keyInfo := &etree.Element{Tag: KeyInfoTag, Space: ctx.Prefix}
	x509Data := ctx.createNamespacedElement(keyInfo, X509DataTag)

	x509Certificate := ctx.createNamespacedElement(x509Data, X509CertificateTag)
	if sub := cert.Subject.String(); sub != "" {
		x509Subject := ctx.createNamespacedElement(x509Data, X509SubjectNameTag)
		x509Subject.SetText(sub)
	}
	x509Certificate.SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	if chainStore, ok := ctx.KeyStore.(X509ChainStore); ok {
		if chain, err := chainStore.GetChain(); err == nil {
			for _, c := range chain {
				extra := ctx.createNamespacedElement(x509Data, X509CertificateTag)
				extra.SetText(base64.StdEncoding.EncodeToString(c.Raw))
			}
		}
	}
	return keyInfo
}

// insertFront prepends children to parent, ahead of whatever it already
// holds, preserving their relative order.
func insertFront(parent *etree.Element, children ...etree.Token) {
	var before etree.Token
	if len(parent.Child) > 0 {
		before = parent.Child[0]
	}
	for _, c := range children {
		if before != nil {
			parent.InsertChild(before, c)
		} else {
			parent.AddChild(c)
		}
	}
}

func (ctx *SigningContext) createNamespacedElement(el *etree.Element, tag string) *etree.Element {
	child := el.CreateElement(tag)
	child.Space = ctx.Prefix
	return child
}

// SignEnveloped appends a <Signature> as the last child of a copy of el.
func (ctx *SigningContext) SignEnveloped(el *etree.Element) (*etree.Element, error) {
	sig, err := ctx.ConstructSignature(el, true)
	if err != nil {
		return nil, err
	}

	ret := el.Copy()
	ret.Child = append(ret.Child, sig)

	return ret, nil
}

// GetSignatureMethodIdentifier returns identifier string.
func (ctx *SigningContext) GetSignatureMethodIdentifier() string {
	if ident, ok := signatureMethodIdentifiers[ctx.Hash]; ok {
		return ident
	}
	return ""
}

// GetDigestAlgorithmIdentifier returns digest identifier.
func (ctx *SigningContext) GetDigestAlgorithmIdentifier() string {
	if ident, ok := digestAlgorithmIdentifiers[ctx.Hash]; ok {
		return ident
	}
	return ""
}
