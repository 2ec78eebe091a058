// Package canon implements component C2: canonicalization of an etree
// node into a deterministic octet stream, plus digesting that stream
// with a named hash algorithm. The Exclusive and C14N 1.1 variants are
// adapted from github.com/l-d-t/fiskalhrgo's canonicalization.go (itself
// headed "adapted from the github.com/russellhaering/goxmldsig
// project") and cross-checked against the from-scratch exclusive-C14N
// walk in the edusouza-nfse-emissor-go reference. The plain Inclusive
// C14N 1.0 (REC-20010315) variant is delegated to github.com/ucarion/c14n,
// mirroring how jhoicas-Inventario-api's DIAN signer uses that library.
package canon

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/lou-perret/xml-signer/internal/xmltree"
)

// AlgorithmID is a canonicalization algorithm URI, mirroring the teacher's
// AlgorithmID string type (internal/dsig/xml_constants.go).
type AlgorithmID string

const (
	AlgExclusiveC14N10             AlgorithmID = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgExclusiveC14N10WithComments AlgorithmID = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"
	AlgC14N11                      AlgorithmID = "http://www.w3.org/2006/12/xml-c14n11"
	AlgC14N11WithComments          AlgorithmID = "http://www.w3.org/2006/12/xml-c14n11#WithComments"
	AlgInclusiveC14N10             AlgorithmID = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgInclusiveC14N10WithComments AlgorithmID = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315#WithComments"
	AlgEnvelopedSignature          AlgorithmID = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// DigestAlgorithmURIs maps a crypto.Hash to its XML-DSig/xmlenc digest
// method URI (teacher's xml_constants.go, extended with SHA-384/512 per
// spec.md §4.2 "SHA-1/384/512 accepted on verify").
var DigestAlgorithmURIs = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2000/09/xmldsig#sha1",
	crypto.SHA256: "http://www.w3.org/2001/04/xmlenc#sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmlenc#sha512",
}

var digestURIsByAlgorithm = map[string]crypto.Hash{}

func init() {
	for hash, uri := range DigestAlgorithmURIs {
		digestURIsByAlgorithm[uri] = hash
	}
}

// HashForURI resolves a digest method URI to a crypto.Hash, for use on
// the verify path where the algorithm is read from the document.
func HashForURI(uri string) (crypto.Hash, bool) {
	h, ok := digestURIsByAlgorithm[uri]
	return h, ok
}

// Canonicalizer applies a single, named C14N variant to an etree element.
// Canonicalize must be pure: identical input produces identical output
// regardless of ambient DOM state (spec.md §4.2).
type Canonicalizer interface {
	Canonicalize(el *etree.Element) ([]byte, error)
	Algorithm() AlgorithmID
}

// Digest canonicalizes el with c and hashes the result with hash.
func Digest(c Canonicalizer, el *etree.Element, hash crypto.Hash) ([]byte, error) {
	octets, err := c.Canonicalize(el)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	if _, err := h.Write(octets); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// FromAlgorithmID resolves a canonicalization algorithm URI, as found on
// a CanonicalizationMethod/Transform @Algorithm or an UnsignedProperties
// SignatureTimeStamp@CanonicalizationMethod, to a Canonicalizer.
// prefixList only matters for the exclusive variants.
func FromAlgorithmID(id AlgorithmID, prefixList []string) (Canonicalizer, error) {
	switch id {
	case AlgExclusiveC14N10:
		return MakeExclusiveCanonicalizer(prefixList, false), nil
	case AlgExclusiveC14N10WithComments:
		return MakeExclusiveCanonicalizer(prefixList, true), nil
	case AlgC14N11:
		return MakeC14N11Canonicalizer(false), nil
	case AlgC14N11WithComments:
		return MakeC14N11Canonicalizer(true), nil
	case AlgInclusiveC14N10:
		return MakeInclusiveC14N10Canonicalizer(false), nil
	case AlgInclusiveC14N10WithComments:
		return MakeInclusiveC14N10Canonicalizer(true), nil
	default:
		return nil, fmt.Errorf("canon: unsupported canonicalization algorithm %q", id)
	}
}

// --- Exclusive C14N (prefix-list aware) ---

type exclusiveCanonicalizer struct {
	withComments bool
	prefixList   []string
}

// MakeExclusiveCanonicalizer returns the Exclusive XML Canonicalization
// (xml-exc-c14n) variant. prefixList names additional namespace prefixes
// to render even if not visibly used (InclusiveNamespaces PrefixList).
func MakeExclusiveCanonicalizer(prefixList []string, withComments bool) Canonicalizer {
	return &exclusiveCanonicalizer{withComments: withComments, prefixList: prefixList}
}

func (c *exclusiveCanonicalizer) Algorithm() AlgorithmID {
	if c.withComments {
		return AlgExclusiveC14N10WithComments
	}
	return AlgExclusiveC14N10
}

func (c *exclusiveCanonicalizer) Canonicalize(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, fmt.Errorf("canon: nil element")
	}
	parentCtx, err := xmltree.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	inclusive := make(map[string]bool, len(c.prefixList))
	for _, p := range c.prefixList {
		inclusive[p] = true
	}
	writeExclusive(buf, el, parentCtx, visibleUtilization{}, inclusive, c.withComments)
	return buf.Bytes(), nil
}

// visibleUtilization tracks, along one root-to-node path, which
// prefixes have already been rendered as a namespace declaration (and so
// are "visibly utilized" in exc-c14n terms for every descendant).
type visibleUtilization map[string]string

func (v visibleUtilization) clone() visibleUtilization {
	out := make(visibleUtilization, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func writeExclusive(buf *bytes.Buffer, el *etree.Element, parentCtx xmltree.NSContext, rendered visibleUtilization, inclusive map[string]bool, comments bool) {
	name := qualifiedName(el)
	buf.WriteString("<")
	buf.WriteString(name)

	ownCtx, _ := parentCtx.SubContext(el)

	needed := map[string]string{}
	if uri, ok := lookupURI(ownCtx, el.Space); ok {
		if rendered[el.Space] != uri {
			needed[el.Space] = uri
		}
	} else if el.Space == "" {
		if uri, ok := lookupURI(ownCtx, ""); ok && rendered[""] != uri {
			needed[""] = uri
		}
	}
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" || (attr.Space == "" && attr.Key == "xmlns") || attr.Space == "xml" {
			continue
		}
		if attr.Space != "" {
			if uri, ok := lookupURI(ownCtx, attr.Space); ok && rendered[attr.Space] != uri {
				needed[attr.Space] = uri
			}
		}
	}
	for prefix := range inclusive {
		if uri, ok := lookupURI(ownCtx, prefix); ok && rendered[prefix] != uri {
			needed[prefix] = uri
		}
	}

	type decl struct{ prefix, uri string }
	var decls []decl
	for p, u := range needed {
		decls = append(decls, decl{p, u})
	}
	sort.Slice(decls, func(i, j int) bool {
		if decls[i].prefix == "" {
			return true
		}
		if decls[j].prefix == "" {
			return false
		}
		return decls[i].prefix < decls[j].prefix
	})
	nextRendered := rendered.clone()
	for _, d := range decls {
		if d.prefix == "" {
			buf.WriteString(" xmlns=\"")
		} else {
			buf.WriteString(" xmlns:")
			buf.WriteString(d.prefix)
			buf.WriteString("=\"")
		}
		buf.WriteString(escapeAttr(d.uri))
		buf.WriteString("\"")
		nextRendered[d.prefix] = d.uri
	}

	var attrs []etree.Attr
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" || (attr.Space == "" && attr.Key == "xmlns") {
			continue
		}
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrQualifiedName(attrs[i]) < attrQualifiedName(attrs[j])
	})
	for _, attr := range attrs {
		buf.WriteString(" ")
		buf.WriteString(attrQualifiedName(attr))
		buf.WriteString("=\"")
		buf.WriteString(escapeAttr(attr.Value))
		buf.WriteString("\"")
	}
	buf.WriteString(">")

	for _, child := range el.Child {
		switch c := child.(type) {
		case *etree.Element:
			writeExclusive(buf, c, ownCtx, nextRendered, inclusive, comments)
		case *etree.CharData:
			buf.WriteString(escapeText(c.Data))
		case *etree.Comment:
			if comments {
				buf.WriteString("<!--")
				buf.WriteString(c.Data)
				buf.WriteString("-->")
			}
		}
	}

	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteString(">")
}

func qualifiedName(el *etree.Element) string {
	if el.Space == "" {
		return el.Tag
	}
	return el.Space + ":" + el.Tag
}

func lookupURI(ctx xmltree.NSContext, prefix string) (string, bool) {
	return xmltree.LookupNamespaceURI(ctx, prefix)
}

func attrQualifiedName(attr etree.Attr) string {
	if attr.Space == "" {
		return attr.Key
	}
	return attr.Space + ":" + attr.Key
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '"':
			buf.WriteString("&quot;")
		case '\t':
			buf.WriteString("&#x9;")
		case '\n':
			buf.WriteString("&#xA;")
		case '\r':
			buf.WriteString("&#xD;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func escapeText(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '\r':
			buf.WriteString("&#xD;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// --- C14N 1.1 (ancestor namespace/xml:* inheritance, no exclusivity) ---

type c14n11Canonicalizer struct{ withComments bool }

// MakeC14N11Canonicalizer returns the (inclusive) xml-c14n11 variant:
// every namespace and xml:* attribute in scope at el's enveloped
// location is declared explicitly on the detached copy before
// serialization (spec.md §4.4's "canonical form of SignedInfo must
// declare all namespaces in scope at its final enveloped location").
func MakeC14N11Canonicalizer(withComments bool) Canonicalizer {
	return &c14n11Canonicalizer{withComments: withComments}
}

func (c *c14n11Canonicalizer) Algorithm() AlgorithmID {
	if c.withComments {
		return AlgC14N11WithComments
	}
	return AlgC14N11
}

func (c *c14n11Canonicalizer) Canonicalize(el *etree.Element) ([]byte, error) {
	parentCtx, err := xmltree.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := xmltree.NSDetatch(parentCtx, el)
	if err != nil {
		return nil, err
	}
	return canonicalSerialize(detached, c.withComments)
}

// --- Inclusive C14N 1.0 (REC-20010315), delegated to ucarion/c14n ---

type inclusiveRecCanonicalizer struct{ withComments bool }

// MakeInclusiveC14N10Canonicalizer returns the plain (inclusive,
// non-exclusive) REC-20010315 Canonical XML 1.0 variant. Unlike the
// exclusive and 1.1 variants above, this one is delegated entirely to
// github.com/ucarion/c14n's token-stream canonicalizer — the algorithm
// it implements is exactly this one, and jhoicas-Inventario-api's DIAN
// signer already leans on it the same way (see DESIGN.md).
func MakeInclusiveC14N10Canonicalizer(withComments bool) Canonicalizer {
	return &inclusiveRecCanonicalizer{withComments: withComments}
}

func (c *inclusiveRecCanonicalizer) Algorithm() AlgorithmID {
	if c.withComments {
		return AlgInclusiveC14N10WithComments
	}
	return AlgInclusiveC14N10
}

func (c *inclusiveRecCanonicalizer) Canonicalize(el *etree.Element) ([]byte, error) {
	// ucarion/c14n canonicalizes from a raw token stream, so the element
	// must first be detached with every ancestor namespace inlined (the
	// same requirement C14N 1.1 has) to match what an in-place canonical
	// serialization of the real document would have produced.
	parentCtx, err := xmltree.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := xmltree.NSDetatch(parentCtx, el)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	doc.SetRoot(detached)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	return c14n.Canonicalize(dec)
}

// canonicalSerialize renders el with etree's canonical write settings
// (no self-closing tags, canonical attribute/text escaping — the
// "LIBXML_NOEMPTYTAG equivalence" spec.md §4.6 requires), after sorting
// attributes and optionally stripping comments, mirroring
// l-d-t-fiskalhrgo/canonicalization.go's canonicalPrep/canonicalSerialize.
func canonicalSerialize(el *etree.Element, comments bool) ([]byte, error) {
	prepped := canonicalPrep(el, comments)
	doc := etree.NewDocument()
	doc.SetRoot(prepped)
	doc.WriteSettings = etree.WriteSettings{
		CanonicalAttrVal: true,
		CanonicalEndTags: true,
		CanonicalText:    true,
	}
	return doc.WriteToBytes()
}

func canonicalPrep(el *etree.Element, comments bool) *etree.Element {
	cp := el.Copy()
	sort.Slice(cp.Attr, func(i, j int) bool {
		return attrQualifiedName(cp.Attr[i]) < attrQualifiedName(cp.Attr[j])
	})
	var kept []etree.Token
	for _, t := range cp.Child {
		switch c := t.(type) {
		case *etree.Element:
			kept = append(kept, canonicalPrep(c, comments))
		case *etree.Comment:
			if comments {
				kept = append(kept, c)
			}
		default:
			kept = append(kept, t)
		}
	}
	cp.Child = kept
	return cp
}
