package xades

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/lou-perret/xml-signer/internal/canon"
	"github.com/lou-perret/xml-signer/internal/certbind"
	"github.com/lou-perret/xml-signer/internal/countersig"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/internal/idreg"
	"github.com/lou-perret/xml-signer/internal/policy"
	"github.com/lou-perret/xml-signer/internal/tsa"
	"github.com/lou-perret/xml-signer/internal/xmltree"
	"github.com/lou-perret/xml-signer/pkg/logger"
)

// Verifier drives the verify half of the orchestrator.
type Verifier struct {
	TrustRoots dsig.X509CertificateStore
	Policy     policy.Strategy
	Clock      *dsig.Clock
	Logger     *logger.Logger
	IDAttr     string

	// TSARoots, when set, is used to validate the trust chain of any
	// embedded time-stamp tokens. Nil means timestamp tokens are parsed
	// and digest-checked but their issuer is not chain-validated
	// (tsa.Validate reports TimestampInconclusive in that case).
	TSARoots *x509.CertPool

	// PolicyFetcher retrieves an explicit policy document by URL for
	// EPESStrategy-style validation. Nil means no policy document is
	// fetched and the strategy's ValidateExplicit receives a nil document:
	// EPESStrategy rejects that, DefaultStrategy accepts it.
	PolicyFetcher func(url string) ([]byte, error)
}

// NewVerifier builds a Verifier trusting the given roots, with the empty
// policy strategy and the real clock.
func NewVerifier(trustRoots dsig.X509CertificateStore) *Verifier {
	return &Verifier{
		TrustRoots: trustRoots,
		Policy:     policy.DefaultStrategy{},
		Clock:      dsig.NewRealClock(),
		IDAttr:     dsig.DefaultIDAttr,
	}
}

func (v *Verifier) logger() *logger.Logger {
	if v.Logger == nil {
		return logger.Nop()
	}
	return v.Logger
}

func (v *Verifier) idAttr() string {
	if v.IDAttr == "" {
		return dsig.DefaultIDAttr
	}
	return v.IDAttr
}

// VerifyResult is the outcome of a successful Verify call.
type VerifyResult struct {
	Signature         *etree.Element
	SignedProperties  *xmltree.SignedProperties
	Certificate       *x509.Certificate
	Timestamps        []*tsa.Result
	TimestampWarnings []error
	CounterSignatures []CounterSignatureResult
}

// CounterSignatureResult reports one counter-signature's own verification
// outcome: it never affects the outer Verify call's own success or
// failure (spec.md §8: tampering with a counter-signature must not
// invalidate the outer signature it counter-signs, and vice versa).
type CounterSignatureResult struct {
	Signature *etree.Element
	Err       error
}

// Verify validates the XAdES signature found in root: the underlying
// XML-DSig signature value and every Reference digest, the
// SigningCertificate(V2) binding, the policy (per v.Policy), and any
// embedded timestamps or counter-signatures.
func (v *Verifier) Verify(root *etree.Element) (*VerifyResult, error) {
	const op = "Verify"

	reg := idreg.New(v.idAttr())
	reg.Reset()
	if err := reg.Index(root); err != nil {
		return nil, wrap(KindStructuralMismatch, op, err)
	}

	vctx := &dsig.ValidationContext{CertificateStore: v.TrustRoots, IdAttribute: v.idAttr(), Clock: v.Clock}

	sig, err := vctx.Validate(root)
	if err != nil {
		return nil, classifyValidateErr(op, err)
	}

	object := findChild(sig, dsig.ObjectTag)
	if object == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("signature has no ds:Object"))
	}
	qpEl := findChild(object, xmltree.TagQualifyingProperties)
	if qpEl == nil {
		return nil, wrap(KindStructuralMismatch, op, fmt.Errorf("ds:Object has no xades QualifyingProperties"))
	}
	qp, err := xmltree.ParseQualifyingProperties(qpEl)
	if err != nil {
		return nil, wrap(KindStructuralMismatch, op, err)
	}
	if err := qp.ValidateStructure(); err != nil {
		return nil, wrap(KindStructuralMismatch, op, err)
	}

	cert, err := vctx.VerifyCertificate(sig)
	if err != nil {
		return nil, wrap(KindSignatureCryptoInvalid, op, err)
	}

	switch {
	case qp.Signed.SignatureProps.CertificateV2 != nil:
		m := certbind.Verify(qp.Signed.SignatureProps.CertificateV2, cert)
		if !m.Matched {
			return nil, wrap(KindCertificateBindingMismatch, op, fmt.Errorf("%s", m.Reason))
		}
	case qp.Signed.SignatureProps.CertificateV1 != nil:
		m := certbind.VerifyLegacy(qp.Signed.SignatureProps.CertificateV1, cert)
		if !m.Matched {
			return nil, wrap(KindCertificateBindingMismatch, op, fmt.Errorf("%s", m.Reason))
		}
	}

	if err := v.validatePolicy(&qp.Signed); err != nil {
		return nil, err
	}

	result := &VerifyResult{Signature: sig, SignedProperties: &qp.Signed, Certificate: cert}

	if qp.Unsigned != nil {
		if err := v.collectTimestamps(sig, qp.Unsigned, result); err != nil {
			return nil, err
		}
		for _, csEl := range qp.Unsigned.SignatureProps.CounterSignatures {
			if cerr := countersig.Verify(vctx, root, csEl); cerr != nil {
				result.CounterSignatures = append(result.CounterSignatures, CounterSignatureResult{
					Signature: csEl,
					Err:       wrap(KindCounterSignatureInvalid, op, cerr),
				})
				continue
			}
			result.CounterSignatures = append(result.CounterSignatures, CounterSignatureResult{Signature: csEl})
		}
	}

	v.logger().Info().Str("op", op).Msg("signature verified")
	return result, nil
}

func (v *Verifier) validatePolicy(sp *xmltree.SignedProperties) error {
	const op = "Verify"
	strategy := v.Policy
	if strategy == nil {
		strategy = policy.DefaultStrategy{}
	}

	pol := sp.SignatureProps.Policy
	if pol == nil || pol.Implied {
		if err := strategy.ValidateImplied(sp); err != nil {
			return wrap(KindPolicyMissing, op, err)
		}
		return nil
	}

	var doc []byte
	if v.PolicyFetcher != nil {
		if url := strategy.PolicyDocumentURL(pol.Identifier); url != "" {
			fetched, ferr := v.PolicyFetcher(url)
			if ferr != nil {
				return wrap(KindExternalFetchFailed, op, ferr)
			}
			doc = fetched
		}
	}
	if err := strategy.ValidateExplicit(sp, doc); err != nil {
		return wrap(KindPolicyDigestMismatch, op, err)
	}
	return nil
}

// collectTimestamps validates every embedded SignatureTimeStamp, routing
// a TimestampInconclusive outcome (the TSA's own chain could not be
// verified with the roots configured) to result.TimestampWarnings rather
// than failing the whole Verify call — spec.md §7 makes that kind
// explicitly non-fatal.
func (v *Verifier) collectTimestamps(sig *etree.Element, up *xmltree.UnsignedProperties, result *VerifyResult) error {
	const op = "Verify"

	sv := findChild(sig, dsig.SignatureValueTag)
	if sv == nil && len(up.SignatureProps.TimeStamps) > 0 {
		return wrap(KindStructuralMismatch, op, fmt.Errorf("missing SignatureValue to timestamp"))
	}

	for _, ts := range up.SignatureProps.TimeStamps {
		canonicalizer, err := canon.FromAlgorithmID(canon.AlgorithmID(ts.CanonicalizationMethod), nil)
		if err != nil {
			return wrap(KindTimestampInvalid, op, err)
		}
		canonical, err := canonicalizer.Canonicalize(sv)
		if err != nil {
			return wrap(KindTimestampInvalid, op, err)
		}

		tr, terr := tsa.Validate(ts.EncapsulatedTimeStamp, crypto.SHA256, canonical, v.TSARoots)
		var inconclusive *tsa.ErrInconclusive
		switch {
		case terr == nil:
			result.Timestamps = append(result.Timestamps, tr)
		case errors.As(terr, &inconclusive):
			v.logger().Warn().Str("op", op).Err(terr).Msg("timestamp validation inconclusive")
			result.TimestampWarnings = append(result.TimestampWarnings, wrap(KindTimestampInconclusive, op, terr))
			result.Timestamps = append(result.Timestamps, tr)
		default:
			return wrap(KindTimestampInvalid, op, terr)
		}
	}
	return nil
}

// classifyValidateErr maps the plain errors internal/dsig.Validate
// returns onto the Kind taxonomy. Apart from its two sentinel errors,
// dsig has no typed error hierarchy of its own, so this inspects the
// message.
func classifyValidateErr(op string, err error) error {
	if errors.Is(err, dsig.ErrMissingSignature) || errors.Is(err, dsig.ErrMissingReference) {
		return wrap(KindStructuralMismatch, op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "reference digest mismatch"):
		return wrap(KindReferenceDigestMismatch, op, err)
	case strings.Contains(msg, "signature value invalid") || strings.Contains(msg, "verify"):
		return wrap(KindSignatureCryptoInvalid, op, err)
	case strings.Contains(msg, "certificate"):
		return wrap(KindSignatureCryptoInvalid, op, err)
	default:
		return wrap(KindStructuralMismatch, op, err)
	}
}
