package xades

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/certbind"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/policy"
	"github.com/lou-perret/xml-signer/internal/refs"
	"github.com/lou-perret/xml-signer/internal/tsa"
	"github.com/lou-perret/xml-signer/internal/xmltree"
	"github.com/lou-perret/xml-signer/pkg/logger"
)

// Signer drives the signing half of the orchestrator: one Signer is
// configured once (key material, hash, canonicalization, policy) and
// reused across Sign calls, mirroring how internal/dsig.SigningContext is
// used by its callers.
type Signer struct {
	KeyStore           dsig.X509KeyStore
	Hash               crypto.Hash
	Canonicalizer      canon.Canonicalizer
	SignatureMethodURI string
	Policy             policy.Strategy
	Clock              *dsig.Clock
	Logger             *logger.Logger
	// TSA is consulted when SignOptions.AddTimestamp is set. Nil unless
	// the caller wants spec.md §4.7 timestamps.
	TSA tsa.Requester
}

// NewSigner builds a Signer with spec.md §4.4's defaults: SHA-256,
// C14N 1.1, RSA-SHA256, the empty policy strategy.
func NewSigner(ks dsig.X509KeyStore) *Signer {
	return &Signer{
		KeyStore:           ks,
		Hash:               crypto.SHA256,
		Canonicalizer:      canon.MakeC14N11Canonicalizer(false),
		SignatureMethodURI: dsig.RSASHA256SignatureMethod,
		Policy:             policy.DefaultStrategy{},
		Clock:              dsig.NewRealClock(),
	}
}

func (s *Signer) logger() *logger.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}
	return s.Logger
}

func (s *Signer) policyStrategy() policy.Strategy {
	if s.Policy == nil {
		return policy.DefaultStrategy{}
	}
	return s.Policy
}

// SignOptions configures one Sign/PrepareSignedInfo call.
type SignOptions struct {
	ProductionPlace *xmltree.SignatureProductionPlaceV2
	SignerRole      *xmltree.SignerRoleV2
	AddTimestamp    bool
	// SignatureID overrides the generated <ds:Signature Id=...>, for
	// callers that need a predictable id (e.g. to counter-sign next).
	SignatureID string
}

// SignResult is the outcome of a completed Sign/FinishSign call.
type SignResult struct {
	Document  *etree.Document
	Signature *etree.Element
	Bytes     []byte
	Filename  string
}

// assembled carries everything built before a signature is actually
// computed: the shared core of Sign and the HSM-style
// PrepareSignedInfo/FinishSign split.
type assembled struct {
	input       *ResourceInput
	workRoot    *etree.Element
	sig         *etree.Element
	signedInfo  *etree.Element
	nsAnchor    *etree.Element
	defaultName string
}

func (s *Signer) signingContext() *dsig.SigningContext {
	return &dsig.SigningContext{
		Hash:          s.Hash,
		KeyStore:      s.KeyStore,
		IDAttribute:   dsig.DefaultIDAttr,
		Prefix:        dsig.DefaultPrefix,
		Canonicalizer: s.Canonicalizer,
	}
}

// assemble builds the unsigned <ds:Signature> (with its <ds:Object>
// <xa:QualifyingProperties> already attached) and the two-Reference
// <SignedInfo> covering the payload and SignedProperties, stopping short
// of computing the signature value itself.
//
// Order matters here and mirrors how ConstructSignatureWithReferences
// already establishes namespace context without full tree attachment:
// workRoot (the payload, still signature-free) and sig (standalone, not
// yet a child of workRoot) are built and digested independently, then
// joined only after signing. SignedProperties is selected as the direct
// child qp.Serialize just built (redesign-flag 1: never an XPath
// @Id=... lookup, which breaks the moment two SignedProperties elements
// with different ids coexist in a document, e.g. during counter-signing).
func (s *Signer) assemble(input *ResourceInput, opts SignOptions) (*assembled, error) {
	const op = "Sign"

	if input == nil {
		return nil, wrap(KindInvalidInput, op, fmt.Errorf("nil resource input"))
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	state := s.transition(stateInit, stateInit, "sign operation starting")

	root, defaultName, err := input.resolve()
	if err != nil {
		return nil, wrap(KindInvalidInput, op, err)
	}
	state = s.transition(state, stateDocLoaded, "document loaded")

	if !input.Detached {
		if _, ferr := dsig.FindSignature(root); ferr == nil {
			return nil, wrap(KindDocumentConflict, op, fmt.Errorf("document already contains a ds:Signature; use a detached ResourceInput to add another"))
		}
	}

	workRoot := root
	if !input.Detached {
		workRoot = root.Copy()
	}

	signatureID := opts.SignatureID
	if signatureID == "" {
		signatureID = "sig-" + uuid.NewString()
	}
	spID := "xades-sp-" + uuid.NewString()

	_, cert, err := s.KeyStore.GetKeyPair()
	if err != nil {
		return nil, wrap(KindInvalidInput, op, err)
	}
	chain := []*x509.Certificate{cert}
	if chainStore, ok := s.KeyStore.(dsig.X509ChainStore); ok {
		if extra, cerr := chainStore.GetChain(); cerr == nil {
			chain = append(chain, extra...)
		}
	}
	signingCert, err := certbind.BuildChain(s.Hash, chain)
	if err != nil {
		return nil, wrap(KindInvalidInput, op, err)
	}

	policyIdent, err := s.policyStrategy().PolicyIdentifier(s.Hash)
	if err != nil {
		return nil, wrap(KindPolicyMissing, op, err)
	}

	qp := &xmltree.QualifyingProperties{
		Target: "#" + signatureID,
		Signed: xmltree.SignedProperties{
			ID: spID,
			SignatureProps: xmltree.SignedSignatureProperties{
				SigningTime:     s.Clock.Now(),
				CertificateV2:   signingCert,
				Policy:          policyIdent,
				ProductionPlace: opts.ProductionPlace,
				SignerRole:      opts.SignerRole,
			},
		},
	}

	sig := &etree.Element{Tag: dsig.SignatureTag, Space: dsig.DefaultPrefix}
	sig.CreateAttr("xmlns:"+dsig.DefaultPrefix, dsig.Namespace)
	sig.CreateAttr(dsig.IDAttr, signatureID)

	object := sig.CreateElement(dsig.ObjectTag)
	object.Space = dsig.DefaultPrefix

	qpEl := qp.Serialize(object, xmltree.DefaultPrefix)
	state = s.transition(state, stateQPBuilt, "qualifying properties built")

	spEl := findChild(qpEl, xmltree.TagSignedProperties)
	if spEl == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("SignedProperties missing immediately after serialization"))
	}

	payloadURI := ""
	enveloped := !input.Detached
	if input.Detached {
		payloadURI = input.detachedReferenceURI(defaultName)
	}

	engine := refs.NewEngine(s.Hash, s.Canonicalizer, dsig.DefaultPrefix)
	signedInfo, err := engine.BuildSignedInfo(s.SignatureMethodURI, []refs.Entry{
		{
			Target: workRoot,
			Spec: refs.Spec{
				ID:        refs.NewReferenceID("xmldsig-ref"),
				URI:       payloadURI,
				Enveloped: enveloped,
				Overwrite: true,
			},
		},
		{
			Target: spEl,
			Spec: refs.Spec{
				URI:       "#" + spID,
				Type:      xmltree.SignedPropertiesType,
				Overwrite: false,
			},
		},
	})
	if err != nil {
		return nil, wrap(KindInvalidInput, op, err)
	}
	state = s.transition(state, stateReferencesAdded, "references added")

	nsAnchor := workRoot
	if input.Detached {
		nsAnchor = sig
	}

	return &assembled{input: input, workRoot: workRoot, sig: sig, signedInfo: signedInfo, nsAnchor: nsAnchor, defaultName: defaultName}, nil
}

// Sign builds and signs a complete XAdES signature over input in one
// call.
func (s *Signer) Sign(input *ResourceInput, opts SignOptions) (*SignResult, error) {
	const op = "Sign"
	a, err := s.assemble(input, opts)
	if err != nil {
		return nil, err
	}

	ctx := s.signingContext()
	if err := ctx.ConstructSignatureAround(a.nsAnchor, a.sig, a.signedInfo); err != nil {
		return nil, wrap(KindSignatureCryptoInvalid, op, err)
	}
	s.transition(stateReferencesAdded, stateSigned, "signature value computed")

	return s.finalize(a, opts)
}

// PreparedSignature is the half-built signature handed back by
// PrepareSignedInfo: a SignedInfo canonicalized against its final
// namespace context, ready for an external signer (e.g. an HSM) to sign.
type PreparedSignature struct {
	a        *assembled
	detached *etree.Element
	opts     SignOptions
}

// PrepareSignedInfo is the out-of-process signing entrypoint spec.md
// §4.4 calls for: it performs every signing step up to computing the raw
// signature value and returns the canonical SignedInfo digest an
// external signer must sign over ctx's hash algorithm. Call FinishSign
// with the resulting raw signature bytes to complete the operation.
func (s *Signer) PrepareSignedInfo(input *ResourceInput, opts SignOptions) (*PreparedSignature, []byte, error) {
	const op = "PrepareSignedInfo"
	a, err := s.assemble(input, opts)
	if err != nil {
		return nil, nil, err
	}

	ctx := s.signingContext()
	digest, detached, err := ctx.PrepareSignedInfo(a.nsAnchor, a.sig, a.signedInfo)
	if err != nil {
		return nil, nil, wrap(KindInvalidInput, op, err)
	}
	s.transition(stateReferencesAdded, stateSignedInfoCanonicalized, "signed info canonicalized for external signing")

	return &PreparedSignature{a: a, detached: detached, opts: opts}, digest, nil
}

// FinishSign completes a PrepareSignedInfo call once the caller has the
// raw signature bytes (e.g. back from an HSM).
func (s *Signer) FinishSign(prep *PreparedSignature, rawSignature []byte) (*SignResult, error) {
	const op = "FinishSign"
	if prep == nil {
		return nil, wrap(KindInvalidInput, op, fmt.Errorf("nil prepared signature"))
	}

	ctx := s.signingContext()
	if err := ctx.FinishSignatureAround(prep.a.sig, prep.detached, rawSignature); err != nil {
		return nil, wrap(KindSignatureCryptoInvalid, op, err)
	}
	s.transition(stateSignedInfoCanonicalized, stateSigned, "signature value attached")

	return s.finalize(prep.a, prep.opts)
}

func (s *Signer) finalize(a *assembled, opts SignOptions) (*SignResult, error) {
	const op = "Sign"

	var finalRoot *etree.Element
	if a.input.Detached {
		finalRoot = a.sig
	} else {
		a.workRoot.AddChild(a.sig)
		finalRoot = a.workRoot
	}
	s.transition(stateSigned, stateEmitted, "signature emitted")

	if opts.AddTimestamp {
		if s.TSA == nil {
			return nil, wrap(KindInvalidInput, op, fmt.Errorf("AddTimestamp requested but Signer.TSA is not configured"))
		}
		if err := s.attachTimestamp(a.sig); err != nil {
			return nil, err
		}
	}

	doc := etree.NewDocument()
	doc.SetRoot(finalRoot)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, wrap(KindInvalidInput, op, err)
	}

	name := a.input.SaveName
	if name == "" {
		name = a.defaultName
	}
	filename := s.policyStrategy().SignatureFilename(a.input.SaveLocation, name)

	s.logger().Info().Str("op", op).Str("signature_id", a.sig.SelectAttrValue(dsig.IDAttr, "")).Msg("signature produced")

	return &SignResult{Document: doc, Signature: a.sig, Bytes: out, Filename: filename}, nil
}

// attachTimestamp requests a time-stamp token over sig's SignatureValue
// and appends it to UnsignedProperties/UnsignedSignatureProperties
// (spec.md §3 Lifecycle: unsigned properties are append-only and
// deliberately outside SignedInfo's coverage).
func (s *Signer) attachTimestamp(sig *etree.Element) error {
	const op = "AddTimestamp"

	sv := findChild(sig, dsig.SignatureValueTag)
	if sv == nil {
		return wrap(KindStructuralMismatch, op, fmt.Errorf("missing SignatureValue"))
	}
	canonical, err := s.Canonicalizer.Canonicalize(sv)
	if err != nil {
		return wrap(KindTimestampInvalid, op, err)
	}
	token, err := tsa.Attach(s.TSA, s.Hash, canonical)
	if err != nil {
		return wrap(KindTimestampInvalid, op, err)
	}

	object := findChild(sig, dsig.ObjectTag)
	if object == nil {
		return wrap(KindStructuralMismatch, op, fmt.Errorf("missing Object"))
	}
	qpEl := findChild(object, xmltree.TagQualifyingProperties)
	if qpEl == nil {
		return wrap(KindStructuralMismatch, op, fmt.Errorf("missing QualifyingProperties"))
	}

	up := &xmltree.UnsignedProperties{
		SignatureProps: xmltree.UnsignedSignatureProperties{
			TimeStamps: []xmltree.SignatureTimeStamp{{
				CanonicalizationMethod: string(s.Canonicalizer.Algorithm()),
				EncapsulatedTimeStamp:  token,
			}},
		},
	}
	up.Serialize(qpEl, xmltree.DefaultPrefix)

	s.logger().Debug().Str("op", op).Msg("timestamp attached")
	return nil
}

func findChild(parent *etree.Element, tag string) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}
