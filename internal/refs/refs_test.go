package refs_test

import (
	"crypto"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/refs"
)

func newEngine() *refs.Engine {
	return refs.NewEngine(crypto.SHA256, canon.MakeExclusiveCanonicalizer(nil, false), dsig.DefaultPrefix)
}

func payloadTarget() *etree.Element {
	el := &etree.Element{Tag: "Payload"}
	el.SetText("hello world")
	return el
}

func TestBuildSignedInfoOrderingAndType(t *testing.T) {
	e := newEngine()
	payload := payloadTarget()
	sp := &etree.Element{Tag: "SignedProperties"}
	sp.CreateAttr("Id", "sp-1")

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: payload, Spec: refs.Spec{URI: "", Overwrite: true}},
		{Target: sp, Spec: refs.Spec{URI: "#sp-1", Type: "http://uri.etsi.org/01903#SignedProperties", Overwrite: false}},
	})
	require.NoError(t, err)

	refEls := signedInfo.FindElements("Reference")
	require.Len(t, refEls, 2)
	assert.Equal(t, "", refEls[0].SelectAttrValue("URI", "zzz"))
	assert.Equal(t, "#sp-1", refEls[1].SelectAttrValue("URI", ""))
	assert.Equal(t, "http://uri.etsi.org/01903#SignedProperties", refEls[1].SelectAttrValue("Type", ""))
	assert.Equal(t, "", refEls[0].SelectAttrValue("Type", ""))
}

func TestBuildSignedInfoSkipsDuplicateURIWhenNotOverwrite(t *testing.T) {
	e := newEngine()
	first := payloadTarget()
	second := payloadTarget()
	second.SetText("different text, same URI")

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: first, Spec: refs.Spec{URI: "#dup", Overwrite: false}},
		{Target: second, Spec: refs.Spec{URI: "#dup", Overwrite: false}},
	})
	require.NoError(t, err)

	refEls := signedInfo.FindElements("Reference")
	require.Len(t, refEls, 1, "second entry with Overwrite=false must be skipped")
}

func TestBuildSignedInfoKeepsBothWhenOverwriteTrue(t *testing.T) {
	e := newEngine()
	first := payloadTarget()
	second := payloadTarget()
	second.SetText("different text, same URI")

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: first, Spec: refs.Spec{URI: "#dup", Overwrite: false}},
		{Target: second, Spec: refs.Spec{URI: "#dup", Overwrite: true}},
	})
	require.NoError(t, err)

	refEls := signedInfo.FindElements("Reference")
	require.Len(t, refEls, 2, "Overwrite=true on the later entry allows the duplicate URI through")
}

func TestBuildSignedInfoEmptyURINeverDeduped(t *testing.T) {
	e := newEngine()
	first := payloadTarget()
	second := payloadTarget()
	second.SetText("second document body")

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: first, Spec: refs.Spec{URI: "", Overwrite: false}},
		{Target: second, Spec: refs.Spec{URI: "", Overwrite: false}},
	})
	require.NoError(t, err)

	refEls := signedInfo.FindElements("Reference")
	assert.Len(t, refEls, 2)
}

func TestBuildReferenceDigestMatchesCanonDigest(t *testing.T) {
	e := newEngine()
	payload := payloadTarget()

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: payload, Spec: refs.Spec{URI: ""}},
	})
	require.NoError(t, err)

	refEl := signedInfo.FindElement("Reference")
	require.NotNil(t, refEl)
	dvEl := refEl.FindElement("DigestValue")
	require.NotNil(t, dvEl)

	gotDigest, err := base64.StdEncoding.DecodeString(dvEl.Text())
	require.NoError(t, err)

	wantDigest, err := canon.Digest(canon.MakeExclusiveCanonicalizer(nil, false), payload, crypto.SHA256)
	require.NoError(t, err)

	assert.Equal(t, wantDigest, gotDigest)
}

func TestBuildReferenceEnvelopedTransformPresent(t *testing.T) {
	e := newEngine()
	payload := payloadTarget()

	signedInfo, err := e.BuildSignedInfo(string(dsig.RSASHA256SignatureMethod), []refs.Entry{
		{Target: payload, Spec: refs.Spec{URI: "", Enveloped: true}},
	})
	require.NoError(t, err)

	refEl := signedInfo.FindElement("Reference")
	require.NotNil(t, refEl)
	transforms := refEl.FindElements("Transforms/Transform")
	require.Len(t, transforms, 2)
	assert.Equal(t, string(dsig.EnvelopedSignatureAltorithmID), transforms[0].SelectAttrValue("Algorithm", ""))
}

func TestNewReferenceIDHasPrefix(t *testing.T) {
	id := refs.NewReferenceID("xmldsig-ref")
	assert.True(t, strings.HasPrefix(id, "xmldsig-ref-"))
	assert.Greater(t, len(id), len("xmldsig-ref-"))

	id2 := refs.NewReferenceID("xmldsig-ref")
	assert.NotEqual(t, id, id2)
}
