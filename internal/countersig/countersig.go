// Package countersig implements component C8 (Counter-signature Engine):
// a counter-signature is a complete, standalone XML-DSig <ds:Signature>
// whose single Reference targets the parent signature's
// <ds:SignatureValue> by same-document fragment URI and carries the
// CountersignedSignature @Type (spec.md §4.8). It reuses internal/dsig
// and internal/refs exactly as the top-level orchestrator does, mirroring
// the teacher's sign.go composition style (build SignedInfo, canonicalize,
// sign, attach KeyInfo) rather than introducing a parallel signing path.
package countersig

import (
	"crypto"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/refs"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// CountersignedSignatureType is the fixed Reference @Type a
// counter-signature's single Reference must carry (spec.md §4.8, §6).
const CountersignedSignatureType = xmltree.CountersignedSignature

// Sign builds a standalone <ds:Signature> counter-signing
// parentSignatureValue: a Reference with URI="#<parentID>", Type
// CountersignedSignatureType, transform c14n, over the parent's
// <ds:SignatureValue> element. signatureID is the @Id to place on the
// new <ds:Signature> (distinct from the parent's).
//
// The caller is responsible for locating parentSignatureValue (an
// etree.Element with Tag=="SignatureValue") and ensuring it carries the
// @Id referenced by parentID — the spec.md §4.8 "same-document fragment
// resolved by the parent's id" requirement.
func Sign(
	signatureID, parentID string,
	parentSignatureValue *etree.Element,
	hash crypto.Hash,
	canonicalizer canon.Canonicalizer,
	signatureMethodURI string,
	keyStore dsig.X509KeyStore,
) (*etree.Element, error) {
	if parentSignatureValue == nil {
		return nil, fmt.Errorf("countersig: parent SignatureValue element is required")
	}

	engine := refs.NewEngine(hash, canonicalizer, dsig.DefaultPrefix)
	signedInfo, err := engine.BuildSignedInfo(signatureMethodURI, []refs.Entry{
		{
			Target: parentSignatureValue,
			Spec: refs.Spec{
				URI:       "#" + parentID,
				Type:      CountersignedSignatureType,
				Enveloped: false,
				Overwrite: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("countersig: build SignedInfo: %w", err)
	}

	ctx := &dsig.SigningContext{
		Hash:          hash,
		KeyStore:      keyStore,
		IDAttribute:   dsig.DefaultIDAttr,
		Prefix:        dsig.DefaultPrefix,
		Canonicalizer: canonicalizer,
	}

	sig, err := ctx.ConstructSignatureWithReferences(parentSignatureValue, signedInfo)
	if err != nil {
		return nil, fmt.Errorf("countersig: sign: %w", err)
	}
	if signatureID != "" {
		sig.CreateAttr(dsig.IDAttr, signatureID)
	}
	return sig, nil
}

// Verify validates a counter-signature as a stand-alone XML-DSig
// signature, exactly as internal/dsig.ValidationContext.Validate would
// for a top-level signature: the fact that its single Reference's @Type
// equals CountersignedSignatureType and resolves to the parent's
// SignatureValue is what establishes the counter-signing relationship —
// spec.md §4.8 requires no additional cryptographic bond. doc is the
// document containing both the counter-signature and (by same-document
// fragment) the parent's SignatureValue it targets.
func Verify(ctx *dsig.ValidationContext, doc *etree.Element, counterSig *etree.Element) error {
	if counterSig == nil {
		return fmt.Errorf("countersig: nil counter-signature element")
	}

	signedInfoTag := "SignedInfo"
	var signedInfo *etree.Element
	for _, c := range counterSig.ChildElements() {
		if c.Tag == signedInfoTag {
			signedInfo = c
			break
		}
	}
	if signedInfo == nil {
		return fmt.Errorf("countersig: missing SignedInfo")
	}

	foundCountersignedType := false
	for _, c := range signedInfo.ChildElements() {
		if c.Tag != dsig.ReferenceTag {
			continue
		}
		if c.SelectAttrValue(dsig.TypeAttr, "") == CountersignedSignatureType {
			foundCountersignedType = true
		}
		if err := ctx.ValidateReference(doc, counterSig, c); err != nil {
			return fmt.Errorf("countersig: %w", err)
		}
	}
	if !foundCountersignedType {
		return fmt.Errorf("countersig: no Reference carries @Type=%s", CountersignedSignatureType)
	}

	cert, err := ctx.VerifyCertificate(counterSig)
	if err != nil {
		return fmt.Errorf("countersig: %w", err)
	}
	if err := ctx.VerifySignedInfo(counterSig, cert); err != nil {
		return fmt.Errorf("countersig: %w", err)
	}
	return nil
}
