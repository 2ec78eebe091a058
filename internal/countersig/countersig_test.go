package countersig_test

import (
	"crypto"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/countersig"
	"github.com/lou-perret/xml-signer/internal/dsig"
)

// buildParentDoc constructs a minimal document containing a parent
// <ds:Signature> with a <ds:SignatureValue Id="parent-sv"> the
// counter-signature will target, plus an unrelated sibling element.
func buildParentDoc() (root, parentSV *etree.Element) {
	root = &etree.Element{Tag: "Document"}
	unrelated := root.CreateElement("Unrelated")
	unrelated.SetText("sibling payload, untouched by the counter-signature")

	parentSig := root.CreateElement("Signature")
	parentSig.Space = dsig.DefaultPrefix
	parentSig.CreateAttr("Id", "parent-sig")

	parentSV = parentSig.CreateElement("SignatureValue")
	parentSV.Space = dsig.DefaultPrefix
	parentSV.CreateAttr("Id", "parent-sv")
	parentSV.SetText("ZmFrZS1zaWduYXR1cmUtdmFsdWU=")

	return root, parentSV
}

func TestCounterSignAndVerifyRoundTrip(t *testing.T) {
	root, parentSV := buildParentDoc()
	ks := dsig.RandomKeyStoreForTest()
	canonicalizer := canon.MakeExclusiveCanonicalizer(nil, false)

	counterSig, err := countersig.Sign("counter-sig-1", "parent-sv", parentSV, crypto.SHA256, canonicalizer, dsig.RSASHA256SignatureMethod, ks)
	require.NoError(t, err)
	root.AddChild(counterSig)

	validateCtx := dsig.NewDefaultValidationContext(nil)
	err = countersig.Verify(validateCtx, root, counterSig)
	assert.NoError(t, err)
}

func TestCounterSignIndependentOfUnrelatedSiblingTamper(t *testing.T) {
	root, parentSV := buildParentDoc()
	ks := dsig.RandomKeyStoreForTest()
	canonicalizer := canon.MakeExclusiveCanonicalizer(nil, false)

	counterSig, err := countersig.Sign("counter-sig-1", "parent-sv", parentSV, crypto.SHA256, canonicalizer, dsig.RSASHA256SignatureMethod, ks)
	require.NoError(t, err)
	root.AddChild(counterSig)

	unrelated := root.FindElement("Unrelated")
	require.NotNil(t, unrelated)
	unrelated.SetText("this changed after counter-signing")

	validateCtx := dsig.NewDefaultValidationContext(nil)
	err = countersig.Verify(validateCtx, root, counterSig)
	assert.NoError(t, err, "tampering a sibling outside the counter-signature's Reference target must not affect verification")
}

func TestCounterSignDetectsTamperedParentValue(t *testing.T) {
	root, parentSV := buildParentDoc()
	ks := dsig.RandomKeyStoreForTest()
	canonicalizer := canon.MakeExclusiveCanonicalizer(nil, false)

	counterSig, err := countersig.Sign("counter-sig-1", "parent-sv", parentSV, crypto.SHA256, canonicalizer, dsig.RSASHA256SignatureMethod, ks)
	require.NoError(t, err)
	root.AddChild(counterSig)

	parentSV.SetText("dGFtcGVyZWQ=")

	validateCtx := dsig.NewDefaultValidationContext(nil)
	err = countersig.Verify(validateCtx, root, counterSig)
	assert.Error(t, err)
}

func TestVerifyMissingCountersignedTypeFails(t *testing.T) {
	root, parentSV := buildParentDoc()
	ks := dsig.RandomKeyStoreForTest()
	canonicalizer := canon.MakeExclusiveCanonicalizer(nil, false)

	counterSig, err := countersig.Sign("counter-sig-1", "parent-sv", parentSV, crypto.SHA256, canonicalizer, dsig.RSASHA256SignatureMethod, ks)
	require.NoError(t, err)
	root.AddChild(counterSig)

	ref := counterSig.FindElement("SignedInfo/Reference")
	require.NotNil(t, ref)
	ref.RemoveAttr("Type")

	validateCtx := dsig.NewDefaultValidationContext(nil)
	err = countersig.Verify(validateCtx, root, counterSig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Reference carries @Type")
}

func TestVerifyNilCounterSignature(t *testing.T) {
	validateCtx := dsig.NewDefaultValidationContext(nil)
	err := countersig.Verify(validateCtx, &etree.Element{Tag: "Document"}, nil)
	assert.Error(t, err)
}
