package certbind_test

import (
	"crypto"
	"crypto/x509"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/certbind"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

func legacySigningCertificate(cert *x509.Certificate) (*xmltree.SigningCertificate, error) {
	h := crypto.SHA256.New()
	h.Write(cert.Raw)
	return &xmltree.SigningCertificate{
		Certs: []xmltree.CertV1{
			{
				Digest: xmltree.CertDigest{
					DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
					DigestValue:  h.Sum(nil),
				},
				IssuerName:   cert.Issuer.String(),
				SerialNumber: cert.SerialNumber.String(),
			},
		},
	}, nil
}

func testCert(t *testing.T) *x509.Certificate {
	t.Helper()
	ks := dsig.RandomKeyStoreForTest()
	_, cert, err := ks.GetKeyPair()
	require.NoError(t, err)
	return cert
}

func TestEncodeDecodeIssuerSerialV2RoundTrip(t *testing.T) {
	cert := testCert(t)

	der, err := certbind.EncodeIssuerSerialV2(cert)
	require.NoError(t, err)
	require.NotEmpty(t, der)

	issuerDN, serial, err := certbind.DecodeIssuerSerialV2(der)
	require.NoError(t, err)

	assert.Equal(t, cert.Issuer.String(), issuerDN)
	assert.Equal(t, 0, serial.Cmp(cert.SerialNumber))
}

func TestBuildAndVerifyMatch(t *testing.T) {
	cert := testCert(t)

	sc, err := certbind.Build(cert, crypto.SHA256)
	require.NoError(t, err)
	require.Len(t, sc.Certs, 1)

	res := certbind.Verify(sc, cert)
	assert.True(t, res.Matched)
	assert.Empty(t, res.Reason)
}

func TestBuildChainOrdersSignerFirst(t *testing.T) {
	signerCert := testCert(t)
	issuerCert := testCert(t)

	sc, err := certbind.BuildChain(crypto.SHA256, []*x509.Certificate{signerCert, issuerCert})
	require.NoError(t, err)
	require.Len(t, sc.Certs, 2)

	h := crypto.SHA256.New()
	h.Write(signerCert.Raw)
	assert.Equal(t, h.Sum(nil), sc.Certs[0].Digest.DigestValue, "the signer's certificate must be the first <Cert> entry")

	res := certbind.Verify(sc, signerCert)
	assert.True(t, res.Matched)
}

func TestVerifyDigestMismatch(t *testing.T) {
	cert := testCert(t)
	other := testCert(t)

	sc, err := certbind.Build(cert, crypto.SHA256)
	require.NoError(t, err)

	res := certbind.Verify(sc, other)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "no entry's certificate digest matches")
}

func TestVerifySerialMismatchReportedAfterDigestMatch(t *testing.T) {
	cert := testCert(t)

	sc, err := certbind.Build(cert, crypto.SHA256)
	require.NoError(t, err)

	// Same DER bytes (so the digest still matches) but a mutated in-memory
	// struct standing in for a certificate whose serial was substituted.
	mutated := *cert
	mutated.SerialNumber = new(big.Int).Add(cert.SerialNumber, big.NewInt(1))

	res := certbind.Verify(sc, &mutated)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "serial number does not")
}

func TestVerifyIssuerMismatchReportedAfterDigestMatch(t *testing.T) {
	cert := testCert(t)

	sc, err := certbind.Build(cert, crypto.SHA256)
	require.NoError(t, err)

	mutated := *cert
	mutated.Issuer.CommonName = "a different issuer entirely"

	res := certbind.Verify(sc, &mutated)
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "issuer name does not")
}

func TestVerifyLegacyMatch(t *testing.T) {
	cert := testCert(t)
	h := crypto.SHA256.New()
	h.Write(cert.Raw)

	legacy, err := legacySigningCertificate(cert)
	require.NoError(t, err)

	res := certbind.VerifyLegacy(legacy, cert)
	assert.True(t, res.Matched)
}

func TestVerifyLegacyDigestMismatch(t *testing.T) {
	cert := testCert(t)
	other := testCert(t)

	legacy, err := legacySigningCertificate(cert)
	require.NoError(t, err)

	res := certbind.VerifyLegacy(legacy, other)
	assert.False(t, res.Matched)
}

func TestVerifyNoEntriesIsUnmatched(t *testing.T) {
	res := certbind.Verify(nil, testCert(t))
	assert.False(t, res.Matched)
	assert.Contains(t, res.Reason, "no SigningCertificateV2 entries present")
}
