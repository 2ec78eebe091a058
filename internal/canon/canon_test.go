package canon_test

import (
	"crypto"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/canon"
)

func buildNamespacedTree() (root, child *etree.Element) {
	root = &etree.Element{Tag: "Root"}
	root.CreateAttr("xmlns:ns1", "urn:test:ns1")
	root.CreateAttr("xmlns:ns2", "urn:test:ns2")
	child = root.CreateElement("Child")
	child.Space = "ns1"
	child.SetText("hello")
	return root, child
}

func TestExclusiveCanonicalizerOmitsUnusedNamespace(t *testing.T) {
	_, child := buildNamespacedTree()

	c := canon.MakeExclusiveCanonicalizer(nil, false)
	out, err := c.Canonicalize(child)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `xmlns:ns1="urn:test:ns1"`)
	assert.NotContains(t, s, "ns2")
	assert.Equal(t, canon.AlgExclusiveC14N10, c.Algorithm())
}

func TestExclusiveCanonicalizerPrefixListForcesDeclaration(t *testing.T) {
	_, child := buildNamespacedTree()

	c := canon.MakeExclusiveCanonicalizer([]string{"ns2"}, false)
	out, err := c.Canonicalize(child)
	require.NoError(t, err)

	assert.Contains(t, string(out), `xmlns:ns2="urn:test:ns2"`)
}

func TestC14N11InlinesAncestorNamespaces(t *testing.T) {
	_, child := buildNamespacedTree()

	c := canon.MakeC14N11Canonicalizer(false)
	out, err := c.Canonicalize(child)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `xmlns:ns1="urn:test:ns1"`)
	assert.Contains(t, s, `xmlns:ns2="urn:test:ns2"`)
	assert.Equal(t, canon.AlgC14N11, c.Algorithm())
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	_, child := buildNamespacedTree()
	c := canon.MakeC14N11Canonicalizer(false)

	out1, err := c.Canonicalize(child)
	require.NoError(t, err)
	out2, err := c.Canonicalize(child)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestDigestChangesOnTamper(t *testing.T) {
	root, child := buildNamespacedTree()
	_ = root
	c := canon.MakeC14N11Canonicalizer(false)

	d1, err := canon.Digest(c, child, crypto.SHA256)
	require.NoError(t, err)

	child.SetText("goodbye")
	d2, err := canon.Digest(c, child, crypto.SHA256)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestInclusiveC14N10Delegated(t *testing.T) {
	_, child := buildNamespacedTree()
	c := canon.MakeInclusiveC14N10Canonicalizer(false)

	out1, err := c.Canonicalize(child)
	require.NoError(t, err)
	require.NotEmpty(t, out1)

	out2, err := c.Canonicalize(child)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, canon.AlgInclusiveC14N10, c.Algorithm())
}

func TestFromAlgorithmIDRoundTrip(t *testing.T) {
	cases := []canon.AlgorithmID{
		canon.AlgExclusiveC14N10,
		canon.AlgExclusiveC14N10WithComments,
		canon.AlgC14N11,
		canon.AlgC14N11WithComments,
		canon.AlgInclusiveC14N10,
		canon.AlgInclusiveC14N10WithComments,
	}
	for _, id := range cases {
		c, err := canon.FromAlgorithmID(id, nil)
		require.NoError(t, err)
		assert.Equal(t, id, c.Algorithm())
	}

	_, err := canon.FromAlgorithmID("urn:not-a-real-algorithm", nil)
	assert.Error(t, err)
}

func TestHashForURI(t *testing.T) {
	hash, ok := canon.HashForURI("http://www.w3.org/2001/04/xmlenc#sha256")
	require.True(t, ok)
	assert.Equal(t, crypto.SHA256, hash)

	_, ok = canon.HashForURI("urn:unknown")
	assert.False(t, ok)
}
