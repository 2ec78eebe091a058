package xmltree

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
)

// StructuralError is returned by Parse/ValidateStructure when a required
// XAdES element or attribute is missing or malformed. The orchestrator
// (package xades) maps this to the StructuralMismatch error kind.
type StructuralError struct {
	Element string
	Reason  string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("xmltree: %s: %s", e.Element, e.Reason)
}

// CertDigest is the digest of a DER-encoded X.509 certificate.
type CertDigest struct {
	DigestMethod string
	DigestValue  []byte
}

// CertV2 is one <Cert> entry of a SigningCertificateV2.
type CertV2 struct {
	Digest CertDigest
	// IssuerSerialV2 is the base64-decoded DER Sequence(GeneralNames, INTEGER)
	// described in spec.md §3/§4.5. Nil if the issuer was not supplied at
	// signing time.
	IssuerSerialV2 []byte
}

// SigningCertificateV2 models xades:SigningCertificateV2 (spec.md §3).
type SigningCertificateV2 struct {
	Certs []CertV2
}

// CertV1 is one <Cert> entry of a legacy (v1.1.1) SigningCertificate.
type CertV1 struct {
	Digest       CertDigest
	IssuerName   string
	SerialNumber string // decimal, per XML-DSig X509SerialNumber convention
}

// SigningCertificate models the legacy xades:SigningCertificate, accepted
// on verify only (spec.md §4.5, §9 S6).
type SigningCertificate struct {
	Certs []CertV1
}

// SignaturePolicyIdentifier models xades:SignaturePolicyIdentifier.
// Implied==true means SignaturePolicyImplied (no explicit policy).
type SignaturePolicyIdentifier struct {
	Implied      bool
	Identifier   string
	DigestMethod string
	DigestValue  []byte
}

// SignatureProductionPlaceV2 models xades:SignatureProductionPlaceV2.
type SignatureProductionPlaceV2 struct {
	City             string
	StateOrProvince  string
	PostalCode       string
	CountryName      string
}

// SignerRoleV2 models xades:SignerRoleV2/ClaimedRoles.
type SignerRoleV2 struct {
	ClaimedRoles []string
}

// SignedSignatureProperties models xades:SignedSignatureProperties.
// V1 and V2 certificate fields are mutually exclusive (spec.md §3): at
// most one of CertificateV2/CertificateV1 is set.
type SignedSignatureProperties struct {
	SigningTime     time.Time
	CertificateV2   *SigningCertificateV2
	CertificateV1   *SigningCertificate
	Policy          *SignaturePolicyIdentifier
	ProductionPlace *SignatureProductionPlaceV2
	SignerRole      *SignerRoleV2
}

// SignedDataObjectProperties models xades:SignedDataObjectProperties. The
// spec leaves its internal content open (DataObjectFormat, CommitmentType,
// AllDataObjectsTimeStamp, ...); this implementation carries it as opaque
// passthrough elements so callers can still populate it without the core
// needing to model every sub-property.
type SignedDataObjectProperties struct {
	Extra []*etree.Element
}

// SignedProperties models xades:SignedProperties (spec.md §3). Id is
// required once referenced from a <Reference Type=SignedPropertiesType>;
// after that point, per the Lifecycle invariant, its serialized bytes must
// not change (enforced by the orchestrator, not by this type).
type SignedProperties struct {
	ID                string
	SignatureProps    SignedSignatureProperties
	DataObjectProps   SignedDataObjectProperties
}

// UnsignedSignatureProperties models xades:UnsignedSignatureProperties:
// append-only home for timestamps and counter-signatures (spec.md §3
// Lifecycle).
type UnsignedSignatureProperties struct {
	TimeStamps        []SignatureTimeStamp
	CounterSignatures []*etree.Element // each a standalone <ds:Signature>
}

// SignatureTimeStamp models xades:SignatureTimeStamp (spec.md §3/§4.7).
type SignatureTimeStamp struct {
	CanonicalizationMethod string
	EncapsulatedTimeStamp  []byte // DER-encoded RFC3161 TimeStampToken
}

// UnsignedProperties models xades:UnsignedProperties.
type UnsignedProperties struct {
	SignatureProps UnsignedSignatureProperties
}

// QualifyingProperties models xades:QualifyingProperties (spec.md §3): the
// root XAdES container, bound to one <ds:Signature> via Target.
type QualifyingProperties struct {
	Target    string // "#<signatureId>"
	Signed    SignedProperties
	Unsigned  *UnsignedProperties
}

// --- Serialize (C1.a) ---

func child(parent *etree.Element, prefix, tag string) *etree.Element {
	e := parent.CreateElement(tag)
	e.Space = prefix
	return e
}

// Serialize renders qp as a <xa:QualifyingProperties> child of parent,
// using prefix for every XAdES-namespaced element. It declares
// xmlns:<prefix>=NamespaceXAdES (or the default namespace when prefix is
// empty) once, on the QualifyingProperties element, so descendants do not
// repeat it. The ds:-prefixed children it writes (DigestMethod,
// DigestValue, ...) rely on an ancestor declaring xmlns:ds.
func (qp *QualifyingProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	qpEl := child(parent, prefix, TagQualifyingProperties)
	if prefix == "" {
		qpEl.CreateAttr("xmlns", NamespaceXAdES)
	} else {
		qpEl.CreateAttr("xmlns:"+prefix, NamespaceXAdES)
	}
	qpEl.CreateAttr(attrTarget, qp.Target)

	qp.Signed.Serialize(qpEl, prefix)

	if qp.Unsigned != nil {
		qp.Unsigned.Serialize(qpEl, prefix)
	}
	return qpEl
}

func (sp *SignedProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	spEl := child(parent, prefix, TagSignedProperties)
	if sp.ID != "" {
		spEl.CreateAttr(attrID, sp.ID)
	}
	sp.SignatureProps.Serialize(spEl, prefix)
	sp.DataObjectProps.Serialize(spEl, prefix)
	return spEl
}

func (ssp *SignedSignatureProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignedSignatureProperties)

	st := child(e, prefix, TagSigningTime)
	st.SetText(ssp.SigningTime.UTC().Format(time.RFC3339))

	switch {
	case ssp.CertificateV2 != nil:
		ssp.CertificateV2.Serialize(e, prefix)
	case ssp.CertificateV1 != nil:
		ssp.CertificateV1.Serialize(e, prefix)
	}

	if ssp.Policy != nil {
		ssp.Policy.Serialize(e, prefix)
	}
	if ssp.ProductionPlace != nil {
		ssp.ProductionPlace.Serialize(e, prefix)
	}
	if ssp.SignerRole != nil {
		ssp.SignerRole.Serialize(e, prefix)
	}
	return e
}

func (dop *SignedDataObjectProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignedDataObjectProperties)
	for _, extra := range dop.Extra {
		e.AddChild(extra.Copy())
	}
	return e
}

func (c *SigningCertificateV2) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSigningCertificateV2)
	for _, cert := range c.Certs {
		certEl := child(e, prefix, TagCert)
		cd := child(certEl, prefix, TagCertDigest)
		dm := child(cd, prefix, TagDigestMethod)
		dm.Space = DSPrefix
		dm.CreateAttr(attrAlgorithm, cert.Digest.DigestMethod)
		dv := child(cd, prefix, TagDigestValue)
		dv.Space = DSPrefix
		dv.SetText(base64.StdEncoding.EncodeToString(cert.Digest.DigestValue))
		if cert.IssuerSerialV2 != nil {
			is := child(certEl, prefix, TagIssuerSerialV2)
			is.SetText(base64.StdEncoding.EncodeToString(cert.IssuerSerialV2))
		}
	}
	return e
}

func (c *SigningCertificate) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSigningCertificate)
	for _, cert := range c.Certs {
		certEl := child(e, prefix, TagCert)
		cd := child(certEl, prefix, TagCertDigest)
		dm := child(cd, prefix, TagDigestMethod)
		dm.Space = DSPrefix
		dm.CreateAttr(attrAlgorithm, cert.Digest.DigestMethod)
		dv := child(cd, prefix, TagDigestValue)
		dv.Space = DSPrefix
		dv.SetText(base64.StdEncoding.EncodeToString(cert.Digest.DigestValue))

		is := child(certEl, prefix, TagIssuerSerial)
		in := child(is, prefix, TagX509IssuerName)
		in.Space = DSPrefix
		in.SetText(cert.IssuerName)
		sn := child(is, prefix, TagX509SerialNumber)
		sn.Space = DSPrefix
		sn.SetText(cert.SerialNumber)
	}
	return e
}

func (p *SignaturePolicyIdentifier) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignaturePolicyIdentifier)
	if p.Implied {
		child(e, prefix, TagSignaturePolicyImplied)
		return e
	}
	spid := child(e, prefix, TagSignaturePolicyId)
	id := child(spid, prefix, TagSigPolicyId)
	ident := child(id, prefix, TagIdentifier)
	ident.SetText(p.Identifier)

	hash := child(spid, prefix, TagSigPolicyHash)
	dm := child(hash, prefix, TagDigestMethod)
	dm.Space = DSPrefix
	dm.CreateAttr(attrAlgorithm, p.DigestMethod)
	dv := child(hash, prefix, TagDigestValue)
	dv.Space = DSPrefix
	dv.SetText(base64.StdEncoding.EncodeToString(p.DigestValue))
	return e
}

func (pp *SignatureProductionPlaceV2) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignatureProductionPlaceV2)
	if pp.City != "" {
		child(e, prefix, TagCity).SetText(pp.City)
	}
	if pp.StateOrProvince != "" {
		child(e, prefix, TagStateOrProvince).SetText(pp.StateOrProvince)
	}
	if pp.PostalCode != "" {
		child(e, prefix, TagPostalCode).SetText(pp.PostalCode)
	}
	if pp.CountryName != "" {
		child(e, prefix, TagCountryName).SetText(pp.CountryName)
	}
	return e
}

func (r *SignerRoleV2) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignerRoleV2)
	roles := child(e, prefix, TagClaimedRoles)
	for _, role := range r.ClaimedRoles {
		child(roles, prefix, TagClaimedRole).SetText(role)
	}
	return e
}

func (up *UnsignedProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagUnsignedProperties)
	up.SignatureProps.Serialize(e, prefix)
	return e
}

func (usp *UnsignedSignatureProperties) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagUnsignedSignatureProperties)
	for _, ts := range usp.TimeStamps {
		ts.Serialize(e, prefix)
	}
	for _, cs := range usp.CounterSignatures {
		csEl := child(e, prefix, TagCounterSignature)
		csEl.AddChild(cs.Copy())
	}
	return e
}

func (ts *SignatureTimeStamp) Serialize(parent *etree.Element, prefix string) *etree.Element {
	e := child(parent, prefix, TagSignatureTimeStamp)
	cm := child(e, prefix, TagCanonicalizationMethod)
	cm.Space = DSPrefix
	cm.CreateAttr(attrAlgorithm, ts.CanonicalizationMethod)
	et := child(e, prefix, TagEncapsulatedTimeStamp)
	et.SetText(base64.StdEncoding.EncodeToString(ts.EncapsulatedTimeStamp))
	return e
}

// --- Parse (C1.b) ---

// findXAdES locates the direct child of el matching tag in either the
// current or legacy XAdES namespace (accepted on verify only, spec.md
// §4.1), in the XML-DSig namespace (the ds:-prefixed children Serialize
// writes, such as DigestMethod), or with no resolvable namespace; nil if
// there is none.
func findXAdES(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag != tag {
			continue
		}
		if c.NamespaceURI() == NamespaceXAdES || c.NamespaceURI() == NamespaceXAdESLegacy || c.NamespaceURI() == NamespaceDS || c.NamespaceURI() == "" {
			return c
		}
	}
	return nil
}

func findAllXAdES(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// ParseQualifyingProperties reparses a <xa:QualifyingProperties> element
// produced by Serialize (or by a compliant peer) back into a typed tree.
func ParseQualifyingProperties(el *etree.Element) (*QualifyingProperties, error) {
	if el == nil || el.Tag != TagQualifyingProperties {
		return nil, &StructuralError{TagQualifyingProperties, "element missing"}
	}
	qp := &QualifyingProperties{Target: el.SelectAttrValue(attrTarget, "")}
	if qp.Target == "" {
		return nil, &StructuralError{TagQualifyingProperties, "missing @Target"}
	}

	spEl := findXAdES(el, TagSignedProperties)
	if spEl == nil {
		return nil, &StructuralError{TagSignedProperties, "required child missing"}
	}
	sp, err := parseSignedProperties(spEl)
	if err != nil {
		return nil, err
	}
	qp.Signed = *sp

	if upEl := findXAdES(el, TagUnsignedProperties); upEl != nil {
		up, err := parseUnsignedProperties(upEl)
		if err != nil {
			return nil, err
		}
		qp.Unsigned = up
	}
	return qp, nil
}

func parseSignedProperties(el *etree.Element) (*SignedProperties, error) {
	sp := &SignedProperties{ID: el.SelectAttrValue(attrID, "")}

	sspEl := findXAdES(el, TagSignedSignatureProperties)
	if sspEl == nil {
		return nil, &StructuralError{TagSignedSignatureProperties, "required child missing"}
	}
	ssp, err := parseSignedSignatureProperties(sspEl)
	if err != nil {
		return nil, err
	}
	sp.SignatureProps = *ssp

	if dopEl := findXAdES(el, TagSignedDataObjectProperties); dopEl != nil {
		sp.DataObjectProps = SignedDataObjectProperties{Extra: dopEl.ChildElements()}
	}
	return sp, nil
}

func parseSignedSignatureProperties(el *etree.Element) (*SignedSignatureProperties, error) {
	ssp := &SignedSignatureProperties{}

	stEl := findXAdES(el, TagSigningTime)
	if stEl == nil {
		return nil, &StructuralError{TagSigningTime, "required child missing"}
	}
	t, err := time.Parse(time.RFC3339, stEl.Text())
	if err != nil {
		return nil, &StructuralError{TagSigningTime, "unparsable timestamp: " + err.Error()}
	}
	ssp.SigningTime = t

	if v2 := findXAdES(el, TagSigningCertificateV2); v2 != nil {
		cert, err := parseSigningCertificateV2(v2)
		if err != nil {
			return nil, err
		}
		ssp.CertificateV2 = cert
	} else if v1 := findXAdES(el, TagSigningCertificate); v1 != nil {
		cert, err := parseSigningCertificate(v1)
		if err != nil {
			return nil, err
		}
		ssp.CertificateV1 = cert
	} else {
		return nil, &StructuralError{TagSigningCertificateV2, "neither V1 nor V2 signing certificate present"}
	}

	if polEl := findXAdES(el, TagSignaturePolicyIdentifier); polEl != nil {
		pol, err := parseSignaturePolicyIdentifier(polEl)
		if err != nil {
			return nil, err
		}
		ssp.Policy = pol
	}

	if ppEl := findXAdES(el, TagSignatureProductionPlaceV2); ppEl != nil {
		ssp.ProductionPlace = &SignatureProductionPlaceV2{
			City:            elementText(findXAdES(ppEl, TagCity)),
			StateOrProvince: elementText(findXAdES(ppEl, TagStateOrProvince)),
			PostalCode:      elementText(findXAdES(ppEl, TagPostalCode)),
			CountryName:     elementText(findXAdES(ppEl, TagCountryName)),
		}
	}

	if srEl := findXAdES(el, TagSignerRoleV2); srEl != nil {
		sr := &SignerRoleV2{}
		if rolesEl := findXAdES(srEl, TagClaimedRoles); rolesEl != nil {
			for _, r := range findAllXAdES(rolesEl, TagClaimedRole) {
				sr.ClaimedRoles = append(sr.ClaimedRoles, r.Text())
			}
		}
		ssp.SignerRole = sr
	}

	return ssp, nil
}

// elementText lets the parse helpers above stay concise despite
// findXAdES returning nil for absent optional elements.
func elementText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

func parseSigningCertificateV2(el *etree.Element) (*SigningCertificateV2, error) {
	cert := &SigningCertificateV2{}
	for _, certEl := range findAllXAdES(el, TagCert) {
		cdEl := findXAdES(certEl, TagCertDigest)
		if cdEl == nil {
			return nil, &StructuralError{TagCertDigest, "required child missing"}
		}
		digest, err := parseCertDigest(cdEl)
		if err != nil {
			return nil, err
		}
		c := CertV2{Digest: *digest}
		if isEl := findXAdES(certEl, TagIssuerSerialV2); isEl != nil {
			raw, err := base64.StdEncoding.DecodeString(isEl.Text())
			if err != nil {
				return nil, &StructuralError{TagIssuerSerialV2, "invalid base64: " + err.Error()}
			}
			c.IssuerSerialV2 = raw
		}
		cert.Certs = append(cert.Certs, c)
	}
	if len(cert.Certs) == 0 {
		return nil, &StructuralError{TagSigningCertificateV2, "no Cert entries"}
	}
	return cert, nil
}

func parseSigningCertificate(el *etree.Element) (*SigningCertificate, error) {
	cert := &SigningCertificate{}
	for _, certEl := range findAllXAdES(el, TagCert) {
		cdEl := findXAdES(certEl, TagCertDigest)
		if cdEl == nil {
			return nil, &StructuralError{TagCertDigest, "required child missing"}
		}
		digest, err := parseCertDigest(cdEl)
		if err != nil {
			return nil, err
		}
		c := CertV1{Digest: *digest}
		if isEl := findXAdES(certEl, TagIssuerSerial); isEl != nil {
			if inEl := findXAdES(isEl, TagX509IssuerName); inEl != nil {
				c.IssuerName = inEl.Text()
			}
			if snEl := findXAdES(isEl, TagX509SerialNumber); snEl != nil {
				c.SerialNumber = snEl.Text()
			}
		}
		cert.Certs = append(cert.Certs, c)
	}
	if len(cert.Certs) == 0 {
		return nil, &StructuralError{TagSigningCertificate, "no Cert entries"}
	}
	return cert, nil
}

func parseCertDigest(el *etree.Element) (*CertDigest, error) {
	dmEl := findXAdES(el, TagDigestMethod)
	dvEl := findXAdES(el, TagDigestValue)
	if dmEl == nil || dvEl == nil {
		return nil, &StructuralError{TagCertDigest, "missing DigestMethod/DigestValue"}
	}
	raw, err := base64.StdEncoding.DecodeString(dvEl.Text())
	if err != nil {
		return nil, &StructuralError{TagDigestValue, "invalid base64: " + err.Error()}
	}
	return &CertDigest{
		DigestMethod: dmEl.SelectAttrValue(attrAlgorithm, ""),
		DigestValue:  raw,
	}, nil
}

func parseSignaturePolicyIdentifier(el *etree.Element) (*SignaturePolicyIdentifier, error) {
	if findXAdES(el, TagSignaturePolicyImplied) != nil {
		return &SignaturePolicyIdentifier{Implied: true}, nil
	}
	spid := findXAdES(el, TagSignaturePolicyId)
	if spid == nil {
		return nil, &StructuralError{TagSignaturePolicyId, "required child missing"}
	}
	idEl := findXAdES(spid, TagSigPolicyId)
	if idEl == nil {
		return nil, &StructuralError{TagSigPolicyId, "required child missing"}
	}
	identEl := findXAdES(idEl, TagIdentifier)
	if identEl == nil {
		return nil, &StructuralError{TagIdentifier, "required child missing"}
	}
	pol := &SignaturePolicyIdentifier{Identifier: identEl.Text()}

	if hashEl := findXAdES(spid, TagSigPolicyHash); hashEl != nil {
		dmEl := findXAdES(hashEl, TagDigestMethod)
		dvEl := findXAdES(hashEl, TagDigestValue)
		if dmEl != nil && dvEl != nil {
			raw, err := base64.StdEncoding.DecodeString(dvEl.Text())
			if err != nil {
				return nil, &StructuralError{TagSigPolicyHash, "invalid base64: " + err.Error()}
			}
			pol.DigestMethod = dmEl.SelectAttrValue(attrAlgorithm, "")
			pol.DigestValue = raw
		}
	}
	return pol, nil
}

func parseUnsignedProperties(el *etree.Element) (*UnsignedProperties, error) {
	up := &UnsignedProperties{}
	uspEl := findXAdES(el, TagUnsignedSignatureProperties)
	if uspEl == nil {
		return up, nil
	}
	for _, tsEl := range findAllXAdES(uspEl, TagSignatureTimeStamp) {
		ts, err := parseSignatureTimeStamp(tsEl)
		if err != nil {
			return nil, err
		}
		up.SignatureProps.TimeStamps = append(up.SignatureProps.TimeStamps, *ts)
	}
	for _, csEl := range findAllXAdES(uspEl, TagCounterSignature) {
		for _, sigEl := range csEl.ChildElements() {
			if sigEl.Tag == "Signature" {
				up.SignatureProps.CounterSignatures = append(up.SignatureProps.CounterSignatures, sigEl)
			}
		}
	}
	return up, nil
}

func parseSignatureTimeStamp(el *etree.Element) (*SignatureTimeStamp, error) {
	cmEl := findXAdES(el, TagCanonicalizationMethod)
	etEl := findXAdES(el, TagEncapsulatedTimeStamp)
	if cmEl == nil || etEl == nil {
		return nil, &StructuralError{TagSignatureTimeStamp, "missing CanonicalizationMethod/EncapsulatedTimeStamp"}
	}
	raw, err := base64.StdEncoding.DecodeString(etEl.Text())
	if err != nil {
		return nil, &StructuralError{TagEncapsulatedTimeStamp, "invalid base64: " + err.Error()}
	}
	return &SignatureTimeStamp{
		CanonicalizationMethod: cmEl.SelectAttrValue(attrAlgorithm, ""),
		EncapsulatedTimeStamp:  raw,
	}, nil
}

// --- Traverse (C1.c) and ValidateStructure (C1.d) ---

// TraversePrefixes rewrites the prefix of el and every descendant whose
// namespace URI equals NamespaceXAdES to newPrefix, leaving
// foreign-namespaced children untouched (spec.md §4.1).
func TraversePrefixes(el *etree.Element, newPrefix string) {
	if el.NamespaceURI() == NamespaceXAdES {
		el.Space = newPrefix
	}
	for _, c := range el.ChildElements() {
		TraversePrefixes(c, newPrefix)
	}
}

// ValidateStructure enforces the required-children invariants of
// spec.md §3 beyond what Parse already checked structurally, returning a
// *StructuralError on the first violation.
func (qp *QualifyingProperties) ValidateStructure() error {
	if qp.Target == "" || qp.Target[0] != '#' {
		return &StructuralError{TagQualifyingProperties, "Target must be a same-document fragment"}
	}
	if qp.Signed.SignatureProps.CertificateV2 == nil && qp.Signed.SignatureProps.CertificateV1 == nil {
		return &StructuralError{TagSignedSignatureProperties, "missing SigningCertificate(V2)"}
	}
	if qp.Signed.SignatureProps.CertificateV2 != nil && qp.Signed.SignatureProps.CertificateV1 != nil {
		return &StructuralError{TagSignedSignatureProperties, "SigningCertificate and SigningCertificateV2 are mutually exclusive"}
	}
	return nil
}
