// Package refs implements the build side of component C3 (Reference
// Engine): building <Reference> entries — transforms and digest — on top
// of internal/canon. It is grounded on the teacher's sign.go
// constructSignedInfo, generalized to multiple references. This package
// does not validate References; URI resolution, transform application
// and digest comparison on verify are done by internal/dsig's
// ValidationContext.
package refs

import (
	"crypto"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/dsig"
)

// Spec describes one Reference to build.
type Spec struct {
	// URI is the @URI value: "" for the whole document (enveloped
	// mode), "#id" for a same-document fragment, or an absolute/relative
	// URI for detached mode (spec.md §4.3's "Detached mode forces an
	// explicit @URI").
	URI string
	// Type is the optional @Type (e.g. the XAdES SignedProperties URI).
	Type string
	// ID is the optional @Id to place on the Reference element itself.
	ID string
	// Enveloped adds the enveloped-signature transform before the
	// canonicalization transform.
	Enveloped bool
	// Overwrite controls what BuildSignedInfo does with an entry whose
	// non-empty URI repeats an earlier entry's: false drops this entry,
	// true emits it as an additional Reference. An earlier Reference is
	// never replaced or removed. Spec.md §4.3: "The
	// SignedProperties reference is added with overwrite=false so
	// downstream logic never replaces an existing SignedProperties
	// digest."
	Overwrite bool
}

// Entry pairs a Spec with the target element its digest covers.
type Entry struct {
	Target *etree.Element
	Spec   Spec
}

// Engine builds References/SignedInfo for one signing operation.
type Engine struct {
	Hash          crypto.Hash
	Canonicalizer canon.Canonicalizer
	Prefix        string
}

// NewEngine constructs an Engine bound to a digest algorithm and the
// canonicalizer that will also canonicalize SignedInfo itself (the
// per-Reference canonicalization transform and SignedInfo's
// CanonicalizationMethod are the same algorithm throughout this
// implementation, matching spec.md §4.3/§4.4).
func NewEngine(hash crypto.Hash, canonicalizer canon.Canonicalizer, prefix string) *Engine {
	return &Engine{Hash: hash, Canonicalizer: canonicalizer, Prefix: prefix}
}

// BuildSignedInfo renders <SignedInfo> with a CanonicalizationMethod,
// SignatureMethod, and one <Reference> per entry, in entry order — "the
// order they were added" invariant from spec.md §5 (payload reference
// first, SignedProperties reference second).
func (e *Engine) BuildSignedInfo(signatureMethodURI string, entries []Entry) (*etree.Element, error) {
	seen := map[string]bool{}
	var kept []Entry
	for _, entry := range entries {
		if entry.Spec.URI != "" && seen[entry.Spec.URI] && !entry.Spec.Overwrite {
			continue
		}
		seen[entry.Spec.URI] = true
		kept = append(kept, entry)
	}

	signedInfo := &etree.Element{Tag: dsig.SignedInfoTag, Space: e.Prefix}

	cm := e.namespacedChild(signedInfo, dsig.CanonicalizationMethodTag)
	cm.CreateAttr(dsig.AlgorithmAttr, string(e.Canonicalizer.Algorithm()))

	sm := e.namespacedChild(signedInfo, dsig.SignatureMethodTag)
	sm.CreateAttr(dsig.AlgorithmAttr, signatureMethodURI)

	for _, entry := range kept {
		refEl, err := e.buildReference(entry)
		if err != nil {
			return nil, err
		}
		signedInfo.AddChild(refEl)
	}

	return signedInfo, nil
}

func (e *Engine) buildReference(entry Entry) (*etree.Element, error) {
	digestURI, ok := canon.DigestAlgorithmURIs[e.Hash]
	if !ok {
		return nil, fmt.Errorf("refs: unsupported digest algorithm %v", e.Hash)
	}

	digest, err := canon.Digest(e.Canonicalizer, entry.Target, e.Hash)
	if err != nil {
		return nil, err
	}

	ref := &etree.Element{Tag: dsig.ReferenceTag, Space: e.Prefix}
	if entry.Spec.ID != "" {
		ref.CreateAttr(dsig.IDAttr, entry.Spec.ID)
	}
	ref.CreateAttr(dsig.URIAttr, entry.Spec.URI)
	if entry.Spec.Type != "" {
		ref.CreateAttr(dsig.TypeAttr, entry.Spec.Type)
	}

	transforms := e.namespacedChild(ref, dsig.TransformsTag)
	if entry.Spec.Enveloped {
		t := e.namespacedChild(transforms, dsig.TransformTag)
		t.CreateAttr(dsig.AlgorithmAttr, string(dsig.EnvelopedSignatureAltorithmID))
	}
	c14nTransform := e.namespacedChild(transforms, dsig.TransformTag)
	c14nTransform.CreateAttr(dsig.AlgorithmAttr, string(e.Canonicalizer.Algorithm()))

	dm := e.namespacedChild(ref, dsig.DigestMethodTag)
	dm.CreateAttr(dsig.AlgorithmAttr, digestURI)

	dv := e.namespacedChild(ref, dsig.DigestValueTag)
	dv.SetText(base64.StdEncoding.EncodeToString(digest))

	return ref, nil
}

func (e *Engine) namespacedChild(parent *etree.Element, tag string) *etree.Element {
	c := parent.CreateElement(tag)
	c.Space = e.Prefix
	return c
}

// NewReferenceID returns a fresh, collision-resistant fragment id for use
// as a Reference's own @Id (e.g. "xmldsig-ref-<uuid>").
func NewReferenceID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
