package xmltree

// XAdES namespaces. Default target is the 2016 EN 319 132-1 namespace;
// the 2003 ETSI TS 101 903 namespace is accepted on verify only (§4.1).
const (
	NamespaceXAdES       = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceXAdESLegacy = "http://uri.etsi.org/01903/v1.1.1#"
	NamespaceDS          = "http://www.w3.org/2000/09/xmldsig#"

	DefaultPrefix = "xa"
	DSPrefix      = "ds"
)

// Fixed URIs from spec.md §6.
const (
	SignedPropertiesType      = "http://uri.etsi.org/01903#SignedProperties"
	CountersignedSignature    = "http://uri.etsi.org/01903#CountersignedSignature"
	SPDocDigestAsInSpecTransf = "http://uri.etsi.org/01903/v1.3.2/SignaturePolicy/SPDocDigestAsInSpecification"
)

// Element tag names (local names, namespace applied via prefix at
// serialization time).
const (
	TagQualifyingProperties          = "QualifyingProperties"
	TagSignedProperties              = "SignedProperties"
	TagUnsignedProperties            = "UnsignedProperties"
	TagSignedSignatureProperties     = "SignedSignatureProperties"
	TagSignedDataObjectProperties    = "SignedDataObjectProperties"
	TagUnsignedSignatureProperties   = "UnsignedSignatureProperties"
	TagSigningTime                   = "SigningTime"
	TagSigningCertificate            = "SigningCertificate"
	TagSigningCertificateV2          = "SigningCertificateV2"
	TagCert                          = "Cert"
	TagCertDigest                    = "CertDigest"
	TagIssuerSerial                  = "IssuerSerial"
	TagIssuerSerialV2                = "IssuerSerialV2"
	TagX509IssuerName                = "X509IssuerName"
	TagX509SerialNumber              = "X509SerialNumber"
	TagSignaturePolicyIdentifier     = "SignaturePolicyIdentifier"
	TagSignaturePolicyId             = "SignaturePolicyId"
	TagSignaturePolicyImplied        = "SignaturePolicyImplied"
	TagSigPolicyId                   = "SigPolicyId"
	TagIdentifier                    = "Identifier"
	TagSigPolicyHash                 = "SigPolicyHash"
	TagSignatureProductionPlaceV2    = "SignatureProductionPlaceV2"
	TagCity                          = "City"
	TagStateOrProvince               = "StateOrProvince"
	TagPostalCode                    = "PostalCode"
	TagCountryName                   = "CountryName"
	TagSignerRoleV2                  = "SignerRoleV2"
	TagClaimedRoles                  = "ClaimedRoles"
	TagClaimedRole                   = "ClaimedRole"
	TagSignatureTimeStamp            = "SignatureTimeStamp"
	TagEncapsulatedTimeStamp         = "EncapsulatedTimeStamp"
	TagCanonicalizationMethod        = "CanonicalizationMethod"
	TagCounterSignature              = "CounterSignature"
	TagDigestMethod                  = "DigestMethod"
	TagDigestValue                   = "DigestValue"
)

const attrTarget = "Target"
const attrID = "Id"
const attrAlgorithm = "Algorithm"
