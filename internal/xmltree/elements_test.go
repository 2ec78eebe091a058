package xmltree_test

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lou-perret/xml-signer/internal/xmltree"
)

func sampleQualifyingProperties() *xmltree.QualifyingProperties {
	return &xmltree.QualifyingProperties{
		Target: "#sig-1",
		Signed: xmltree.SignedProperties{
			ID: "sp-1",
			SignatureProps: xmltree.SignedSignatureProperties{
				SigningTime: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
				CertificateV2: &xmltree.SigningCertificateV2{
					Certs: []xmltree.CertV2{
						{
							Digest: xmltree.CertDigest{
								DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
								DigestValue:  []byte("fake-digest-bytes"),
							},
							IssuerSerialV2: []byte("fake-der-issuerserial"),
						},
					},
				},
				Policy: &xmltree.SignaturePolicyIdentifier{
					Identifier:   "urn:policy:test",
					DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
					DigestValue:  []byte("policy-digest"),
				},
				ProductionPlace: &xmltree.SignatureProductionPlaceV2{
					City:            "Paris",
					StateOrProvince: "Ile-de-France",
					PostalCode:      "75001",
					CountryName:     "FR",
				},
				SignerRole: &xmltree.SignerRoleV2{
					ClaimedRoles: []string{"approver", "auditor"},
				},
			},
		},
	}
}

func TestQualifyingPropertiesSerializeParseRoundTrip(t *testing.T) {
	qp := sampleQualifyingProperties()

	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)
	require.Equal(t, xmltree.TagQualifyingProperties, qpEl.Tag)

	parsed, err := xmltree.ParseQualifyingProperties(qpEl)
	require.NoError(t, err)

	assert.Equal(t, qp.Target, parsed.Target)
	assert.Equal(t, qp.Signed.ID, parsed.Signed.ID)
	assert.True(t, qp.Signed.SignatureProps.SigningTime.Equal(parsed.Signed.SignatureProps.SigningTime))
	require.NotNil(t, parsed.Signed.SignatureProps.CertificateV2)
	require.Len(t, parsed.Signed.SignatureProps.CertificateV2.Certs, 1)
	assert.Equal(t, qp.Signed.SignatureProps.CertificateV2.Certs[0].Digest, parsed.Signed.SignatureProps.CertificateV2.Certs[0].Digest)
	assert.Equal(t, qp.Signed.SignatureProps.CertificateV2.Certs[0].IssuerSerialV2, parsed.Signed.SignatureProps.CertificateV2.Certs[0].IssuerSerialV2)

	require.NotNil(t, parsed.Signed.SignatureProps.Policy)
	assert.Equal(t, "urn:policy:test", parsed.Signed.SignatureProps.Policy.Identifier)
	assert.False(t, parsed.Signed.SignatureProps.Policy.Implied)

	require.NotNil(t, parsed.Signed.SignatureProps.ProductionPlace)
	assert.Equal(t, "Paris", parsed.Signed.SignatureProps.ProductionPlace.City)
	assert.Equal(t, "FR", parsed.Signed.SignatureProps.ProductionPlace.CountryName)

	require.NotNil(t, parsed.Signed.SignatureProps.SignerRole)
	assert.Equal(t, []string{"approver", "auditor"}, parsed.Signed.SignatureProps.SignerRole.ClaimedRoles)

	assert.NoError(t, parsed.ValidateStructure())
}

func TestQualifyingPropertiesImpliedPolicyRoundTrip(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Signed.SignatureProps.Policy = &xmltree.SignaturePolicyIdentifier{Implied: true}

	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)

	parsed, err := xmltree.ParseQualifyingProperties(qpEl)
	require.NoError(t, err)
	require.NotNil(t, parsed.Signed.SignatureProps.Policy)
	assert.True(t, parsed.Signed.SignatureProps.Policy.Implied)
}

func TestQualifyingPropertiesLegacyCertificateRoundTrip(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Signed.SignatureProps.CertificateV2 = nil
	qp.Signed.SignatureProps.CertificateV1 = &xmltree.SigningCertificate{
		Certs: []xmltree.CertV1{
			{
				Digest: xmltree.CertDigest{
					DigestMethod: "http://www.w3.org/2001/04/xmlenc#sha256",
					DigestValue:  []byte("legacy-digest"),
				},
				IssuerName:   "CN=Test CA",
				SerialNumber: "12345",
			},
		},
	}

	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)

	parsed, err := xmltree.ParseQualifyingProperties(qpEl)
	require.NoError(t, err)
	require.Nil(t, parsed.Signed.SignatureProps.CertificateV2)
	require.NotNil(t, parsed.Signed.SignatureProps.CertificateV1)
	require.Len(t, parsed.Signed.SignatureProps.CertificateV1.Certs, 1)
	assert.Equal(t, "CN=Test CA", parsed.Signed.SignatureProps.CertificateV1.Certs[0].IssuerName)
	assert.Equal(t, "12345", parsed.Signed.SignatureProps.CertificateV1.Certs[0].SerialNumber)

	assert.NoError(t, parsed.ValidateStructure())
}

func TestValidateStructureRejectsBadTarget(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Target = "sig-1" // missing leading '#'

	err := qp.ValidateStructure()
	require.Error(t, err)
	var se *xmltree.StructuralError
	assert.ErrorAs(t, err, &se)
}

func TestValidateStructureRejectsMissingCertificate(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Signed.SignatureProps.CertificateV2 = nil

	err := qp.ValidateStructure()
	assert.Error(t, err)
}

func TestValidateStructureRejectsBothCertificates(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Signed.SignatureProps.CertificateV1 = &xmltree.SigningCertificate{
		Certs: []xmltree.CertV1{{
			Digest:     xmltree.CertDigest{DigestMethod: "x", DigestValue: []byte("y")},
			IssuerName: "CN=Other",
		}},
	}

	err := qp.ValidateStructure()
	assert.Error(t, err)
}

func TestParseQualifyingPropertiesAcceptsLegacyNamespace(t *testing.T) {
	qp := sampleQualifyingProperties()

	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)
	// Rewrite the xmlns declaration to the legacy URI.
	qpEl.RemoveAttr("xmlns:" + xmltree.DefaultPrefix)
	qpEl.CreateAttr("xmlns:"+xmltree.DefaultPrefix, xmltree.NamespaceXAdESLegacy)

	parsed, err := xmltree.ParseQualifyingProperties(qpEl)
	require.NoError(t, err)
	assert.Equal(t, "#sig-1", parsed.Target)
}

func TestTraversePrefixesRewritesOnlyXAdESNamespace(t *testing.T) {
	qp := sampleQualifyingProperties()
	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)

	foreign := qpEl.CreateElement("Foreign")
	foreign.Space = "other"
	foreign.CreateAttr("xmlns:other", "urn:test:other")

	xmltree.TraversePrefixes(qpEl, "zz")

	assert.Equal(t, "zz", qpEl.Space)
	assert.Equal(t, "other", foreign.Space)

	for _, c := range qpEl.ChildElements() {
		if c.Tag == xmltree.TagSignedProperties {
			assert.Equal(t, "zz", c.Space)
		}
	}
}

func TestUnsignedPropertiesTimestampAndCounterSignatureRoundTrip(t *testing.T) {
	qp := sampleQualifyingProperties()
	qp.Unsigned = &xmltree.UnsignedProperties{
		SignatureProps: xmltree.UnsignedSignatureProperties{
			TimeStamps: []xmltree.SignatureTimeStamp{
				{
					CanonicalizationMethod: "http://www.w3.org/2006/12/xml-c14n11",
					EncapsulatedTimeStamp:  []byte("fake-tst-der"),
				},
			},
		},
	}

	counterSig := &etree.Element{Tag: "Signature"}
	counterSig.Space = xmltree.DSPrefix
	counterSig.CreateAttr("Id", "counter-sig-1")
	qp.Unsigned.SignatureProps.CounterSignatures = []*etree.Element{counterSig}

	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)

	parsed, err := xmltree.ParseQualifyingProperties(qpEl)
	require.NoError(t, err)
	require.NotNil(t, parsed.Unsigned)
	require.Len(t, parsed.Unsigned.SignatureProps.TimeStamps, 1)
	assert.Equal(t, []byte("fake-tst-der"), parsed.Unsigned.SignatureProps.TimeStamps[0].EncapsulatedTimeStamp)
	assert.Equal(t, "http://www.w3.org/2006/12/xml-c14n11", parsed.Unsigned.SignatureProps.TimeStamps[0].CanonicalizationMethod)

	require.Len(t, parsed.Unsigned.SignatureProps.CounterSignatures, 1)
	assert.Equal(t, "counter-sig-1", parsed.Unsigned.SignatureProps.CounterSignatures[0].SelectAttrValue("Id", ""))
}

func TestParseQualifyingPropertiesRejectsMissingTarget(t *testing.T) {
	qp := sampleQualifyingProperties()
	root := &etree.Element{Tag: "Root"}
	qpEl := qp.Serialize(root, xmltree.DefaultPrefix)
	qpEl.RemoveAttr("Target")

	_, err := xmltree.ParseQualifyingProperties(qpEl)
	assert.Error(t, err)
}
