package xades

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/lou-perret/xml-signer/internal/countersig"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// CounterSign adds a counter-signature over the <ds:SignatureValue> of
// the <ds:Signature Id=parentSignatureID> found in root, and attaches the
// result under that same signature's own
// UnsignedProperties/UnsignedSignatureProperties/CounterSignature
// (redesign-flag 4: unsigned properties always attach to the signature
// being counter-signed, never reflexively to whichever signature happens
// to be outermost in the document).
func (s *Signer) CounterSign(root *etree.Element, parentSignatureID string, opts SignOptions) (*etree.Element, error) {
	const op = "CounterSign"

	parentSig := findByID(root, dsig.IDAttr, parentSignatureID)
	if parentSig == nil {
		return nil, wrap(KindInvalidInput, op, fmt.Errorf("no element with Id=%q found", parentSignatureID))
	}
	parentSV := findChild(parentSig, dsig.SignatureValueTag)
	if parentSV == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("parent signature %q has no SignatureValue", parentSignatureID))
	}
	if parentSV.SelectAttrValue(dsig.IDAttr, "") == "" {
		parentSV.CreateAttr(dsig.IDAttr, parentSignatureID+"-value")
	}
	svID := parentSV.SelectAttrValue(dsig.IDAttr, "")

	counterSigID := opts.SignatureID
	if counterSigID == "" {
		counterSigID = "countersig-" + uuid.NewString()
	}

	cs, err := countersig.Sign(counterSigID, svID, parentSV, s.Hash, s.Canonicalizer, s.SignatureMethodURI, s.KeyStore)
	if err != nil {
		return nil, wrap(KindCounterSignatureInvalid, op, err)
	}

	object := findChild(parentSig, dsig.ObjectTag)
	if object == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("parent signature %q has no ds:Object", parentSignatureID))
	}
	qpEl := findChild(object, xmltree.TagQualifyingProperties)
	if qpEl == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("parent signature %q has no QualifyingProperties", parentSignatureID))
	}

	upEl := findChild(qpEl, xmltree.TagUnsignedProperties)
	if upEl == nil {
		upEl = qpEl.CreateElement(xmltree.TagUnsignedProperties)
		upEl.Space = xmltree.DefaultPrefix
	}
	uspEl := findChild(upEl, xmltree.TagUnsignedSignatureProperties)
	if uspEl == nil {
		uspEl = upEl.CreateElement(xmltree.TagUnsignedSignatureProperties)
		uspEl.Space = xmltree.DefaultPrefix
	}
	csWrapper := findChild(uspEl, xmltree.TagCounterSignature)
	if csWrapper == nil {
		csWrapper = uspEl.CreateElement(xmltree.TagCounterSignature)
		csWrapper.Space = xmltree.DefaultPrefix
	}
	csWrapper.AddChild(cs)

	s.logger().Debug().Str("op", op).Str("parent", parentSignatureID).Str("countersignature", counterSigID).Msg("counter-signature attached")
	return cs, nil
}

func findByID(el *etree.Element, attr, id string) *etree.Element {
	if el.SelectAttrValue(attr, "") == id {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findByID(c, attr, id); found != nil {
			return found
		}
	}
	return nil
}
