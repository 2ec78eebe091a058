// Package certbind implements component C5 (Signing-Certificate Binder):
// producing and validating SigningCertificateV2 (cert digest + DER
// IssuerSerialV2), plus loading signer key material. Grounded on
// jhoicas-Inventario-api's internal/infrastructure/dian/signer/cert.go
// (CertDigestAndIssuerSerial, LoadFromP12/LoadFromPEM) and
// l-d-t-fiskalhrgo/cert.go (PKCS#12 loading pattern); the ASN.1
// IssuerSerialV2 shape follows RFC 5035 and the stdlib crypto/x509/pkix
// RDNSequence machinery.
package certbind

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// issuerSerialV2 mirrors RFC 5035's IssuerSerial ::= SEQUENCE {
// issuer GeneralNames, serialNumber CertificateSerialNumber }. GeneralNames
// is carried as a raw ASN.1 value so encoding/decoding does not need a
// full GeneralName CHOICE implementation — this module only ever
// populates the directoryName [4] alternative, which is what X.509
// issuer DNs use.
type issuerSerialV2 struct {
	GeneralNames asn1.RawValue
	SerialNumber *big.Int
}

// EncodeIssuerSerialV2 DER-encodes Sequence(GeneralNames, INTEGER serial)
// for cert's issuer, per spec.md §3/§4.5.
func EncodeIssuerSerialV2(cert *x509.Certificate) ([]byte, error) {
	directoryName := asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        4, // [4] directoryName
		IsCompound: true,
		Bytes:      cert.RawIssuer,
	}
	directoryNameDER, err := asn1.Marshal(directoryName)
	if err != nil {
		return nil, fmt.Errorf("certbind: encode directoryName: %w", err)
	}

	generalNames := asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      directoryNameDER,
	}
	generalNamesDER, err := asn1.Marshal(generalNames)
	if err != nil {
		return nil, fmt.Errorf("certbind: encode GeneralNames: %w", err)
	}

	out := issuerSerialV2{
		GeneralNames: asn1.RawValue{FullBytes: generalNamesDER},
		SerialNumber: cert.SerialNumber,
	}
	return asn1.Marshal(out)
}

// DecodeIssuerSerialV2 reverses EncodeIssuerSerialV2, returning the
// issuer's canonical DN string (per pkix.Name's RFC 4514-ish String()
// form) and the serial number.
func DecodeIssuerSerialV2(der []byte) (issuerDN string, serial *big.Int, err error) {
	var decoded issuerSerialV2
	if _, err := asn1.Unmarshal(der, &decoded); err != nil {
		return "", nil, fmt.Errorf("certbind: decode IssuerSerialV2: %w", err)
	}

	var generalNameRaw asn1.RawValue
	if _, err := asn1.Unmarshal(decoded.GeneralNames.Bytes, &generalNameRaw); err != nil {
		return "", nil, fmt.Errorf("certbind: decode GeneralName: %w", err)
	}
	if generalNameRaw.Tag != 4 {
		return "", nil, fmt.Errorf("certbind: unsupported GeneralName choice tag %d (only directoryName [4] is supported)", generalNameRaw.Tag)
	}

	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(generalNameRaw.Bytes, &rdn); err != nil {
		return "", nil, fmt.Errorf("certbind: decode issuer RDNSequence: %w", err)
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)

	return name.String(), decoded.SerialNumber, nil
}
