package policy_test

import (
	"crypto"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/policy"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

func TestDefaultStrategy(t *testing.T) {
	var s policy.Strategy = policy.DefaultStrategy{}

	ident, err := s.PolicyIdentifier(crypto.SHA256)
	require.NoError(t, err)
	assert.Nil(t, ident)

	assert.NoError(t, s.ValidateImplied(&xmltree.SignedProperties{}))
	assert.NoError(t, s.ValidateExplicit(&xmltree.SignedProperties{}, nil))
	assert.Equal(t, "", s.PolicyDocumentURL("urn:whatever"))
}

func TestDefaultStrategySignatureFilename(t *testing.T) {
	s := policy.DefaultStrategy{}

	assert.Equal(t, "signature.xml", s.SignatureFilename("", ""))
	assert.Equal(t, "out/doc.xml", s.SignatureFilename("out", "doc.xml"))
	assert.Equal(t, "out/doc.xml", s.SignatureFilename("out", "doc"))
	assert.Equal(t, "out/doc.xml", s.SignatureFilename("out/", "doc"))
}

func TestEPESStrategyPolicyIdentifier(t *testing.T) {
	e := policy.EPESStrategy{
		Identifier:   "urn:policy:1",
		DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
		DigestValue:  []byte("digest"),
	}
	ident, err := e.PolicyIdentifier(crypto.SHA256)
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, "urn:policy:1", ident.Identifier)
	assert.False(t, ident.Implied)

	_, err = policy.EPESStrategy{}.PolicyIdentifier(crypto.SHA256)
	assert.Error(t, err)
}

func TestEPESStrategyValidateImpliedAlwaysFails(t *testing.T) {
	e := policy.EPESStrategy{Identifier: "urn:policy:1"}
	err := e.ValidateImplied(&xmltree.SignedProperties{})
	assert.Error(t, err)
}

func TestEPESStrategyValidateExplicit(t *testing.T) {
	doc := []byte("policy document contents")
	sum := sha256.Sum256(doc)

	e := policy.EPESStrategy{
		Identifier:  "urn:policy:1",
		DocumentURL: "https://example.test/policy.pdf",
	}

	sp := &xmltree.SignedProperties{
		SignatureProps: xmltree.SignedSignatureProperties{
			Policy: &xmltree.SignaturePolicyIdentifier{
				Identifier:   "urn:policy:1",
				DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
				DigestValue:  sum[:],
			},
		},
	}

	assert.NoError(t, e.ValidateExplicit(sp, doc))
	assert.Equal(t, "https://example.test/policy.pdf", e.PolicyDocumentURL("urn:policy:1"))

	// Wrong identifier.
	spWrongID := *sp
	spWrongID.SignatureProps.Policy = &xmltree.SignaturePolicyIdentifier{
		Identifier:   "urn:policy:other",
		DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
		DigestValue:  sum[:],
	}
	assert.Error(t, e.ValidateExplicit(&spWrongID, doc))

	// Missing policy document.
	assert.Error(t, e.ValidateExplicit(sp, nil))

	// Tampered digest.
	spBadDigest := *sp
	spBadDigest.SignatureProps.Policy = &xmltree.SignaturePolicyIdentifier{
		Identifier:   "urn:policy:1",
		DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
		DigestValue:  []byte("not-the-real-digest-00000000000"),
	}
	assert.Error(t, e.ValidateExplicit(&spBadDigest, doc))

	// Implied policy rejected by an EPES strategy.
	spImplied := *sp
	spImplied.SignatureProps.Policy = &xmltree.SignaturePolicyIdentifier{Implied: true}
	assert.Error(t, e.ValidateExplicit(&spImplied, doc))
}
