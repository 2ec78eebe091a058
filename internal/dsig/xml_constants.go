package dsig

import "crypto"

const (
	// DefaultPrefix for generating signs
	DefaultPrefix = "ds"
	// EmptyPrefix for generating empty prefixes.
	EmptyPrefix = ""
	// Namespace of signature.
	Namespace = "http://www.w3.org/2000/09/xmldsig#"

	// DefaultIDAttr is the attribute this package looks for when
	// resolving a same-document Reference by fragment.
	DefaultIDAttr = "Id"
)

// Tags
const (
	SignatureTag              = "Signature"
	SignedInfoTag             = "SignedInfo"
	CanonicalizationMethodTag = "CanonicalizationMethod"
	SignatureMethodTag        = "SignatureMethod"
	ReferenceTag              = "Reference"
	TransformsTag             = "Transforms"
	TransformTag              = "Transform"
	DigestMethodTag           = "DigestMethod"
	DigestValueTag            = "DigestValue"
	SignatureValueTag         = "SignatureValue"
	KeyInfoTag                = "KeyInfo"
	X509DataTag               = "X509Data"
	X509SubjectNameTag        = "X509SubjectName"
	X509CertificateTag        = "X509Certificate"
	InclusiveNamespacesTag    = "InclusiveNamespaces"
	ObjectTag                 = "Object"
)

const (
	// AlgorithmAttr is AlgorithmAttribute.
	AlgorithmAttr = "Algorithm"
	// URIAttr is URIAttribute.
	URIAttr = "URI"
	// TypeAttr is the Reference @Type attribute (used for the XAdES
	// SignedProperties and CounterSignature reference types).
	TypeAttr = "Type"
	// PrefixListAttr is PrefixListAttribute.
	PrefixListAttr = "PrefixList"
	// IDAttr is the generic @Id attribute name used on Signature itself.
	IDAttr = "Id"
)

// AlgorithmID as custom type out of string.
type AlgorithmID string

func (id AlgorithmID) String() string {
	return string(id)
}

const (
	// RSASHA1SignatureMethod is a signature method.
	RSASHA1SignatureMethod = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	// RSASHA256SignatureMethod is a signature method
	RSASHA256SignatureMethod = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	// RSASHA512SignatureMethod is a signature method
	RSASHA512SignatureMethod = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

const (
	// EnvelopedSignatureAltorithmID names the enveloped-signature
	// transform applied as the first Transform in an enveloped
	// Reference. Canonicalization algorithm identifiers themselves live
	// in internal/canon, which owns C2.
	EnvelopedSignatureAltorithmID AlgorithmID = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

var digestAlgorithmIdentifiers = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2000/09/xmldsig#sha1",
	crypto.SHA256: "http://www.w3.org/2001/04/xmlenc#sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmlenc#sha512",
}

var digestAlgorithmsByIdentifier = map[string]crypto.Hash{}
var signatureMethodsByIdentifier = map[string]crypto.Hash{}

func init() {
	for hash, id := range digestAlgorithmIdentifiers {
		digestAlgorithmsByIdentifier[id] = hash
	}
	for hash, id := range signatureMethodIdentifiers {
		signatureMethodsByIdentifier[id] = hash
	}
}

var signatureMethodIdentifiers = map[crypto.Hash]string{
	crypto.SHA1:   RSASHA1SignatureMethod,
	crypto.SHA256: RSASHA256SignatureMethod,
	crypto.SHA512: RSASHA512SignatureMethod,
}
