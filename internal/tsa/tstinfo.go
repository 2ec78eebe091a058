// Package tsa implements component C7 (Time-stamp Attacher/Validator):
// requesting and embedding an RFC 3161 SignatureTimeStamp over a
// signature's SignatureValue, and validating one found on verify. The
// ASN.1 TSTInfo shape is grounded on the pdfcpu sign package's dts.go
// (AlgorithmIdentifier/TSTInfo/MessageImprint), and the TimeStampToken
// itself is parsed/verified as a PKCS#7 SignedData via
// github.com/hhrutter/pkcs7, the same library dts.go uses.
package tsa

import (
	"crypto"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/lou-perret/xml-signer/internal/canon"
)

// AlgorithmIdentifier mirrors the X.509 AlgorithmIdentifier ASN.1 type, as
// used inside MessageImprint.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"tag:0,optional"`
}

// MessageImprint is the hashed message a timestamp authority attests to.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TSTInfo is RFC 3161's TSTInfo, the content type embedded in a
// TimeStampToken's PKCS#7 SignedData.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   asn1.RawValue
	GenTime        time.Time
	Accuracy       asn1.RawValue `asn1:"optional"`
	Ordering       bool          `asn1:"optional"`
	Nonce          asn1.RawValue `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional"`
	Extensions     asn1.RawValue `asn1:"optional"`
}

// oidSHA1/256/384/512 are the digest algorithm OIDs RFC 3161 message
// imprints use, matching crypto/x509's hashOID table.
var (
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   oidSHA1,
	crypto.SHA256: oidSHA256,
	crypto.SHA384: oidSHA384,
	crypto.SHA512: oidSHA512,
}

func oidForHash(hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	oid, ok := hashOIDs[hash]
	if !ok {
		return nil, fmt.Errorf("tsa: unsupported hash algorithm %v", hash)
	}
	return oid, nil
}

func hashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for hash, candidate := range hashOIDs {
		if candidate.Equal(oid) {
			return hash, true
		}
	}
	return 0, false
}

// BuildMessageImprint hashes data with hash and wraps it as a MessageImprint.
func BuildMessageImprint(hash crypto.Hash, data []byte) (MessageImprint, error) {
	oid, err := oidForHash(hash)
	if err != nil {
		return MessageImprint{}, err
	}
	h := hash.New()
	h.Write(data)
	return MessageImprint{
		HashAlgorithm: AlgorithmIdentifier{Algorithm: oid},
		HashedMessage: h.Sum(nil),
	}, nil
}

// digestAlgorithmURI returns the XML-DSig digest URI matching hash, for
// reuse of internal/canon's table rather than a second copy.
func digestAlgorithmURI(hash crypto.Hash) (string, bool) {
	uri, ok := canon.DigestAlgorithmURIs[hash]
	return uri, ok
}
