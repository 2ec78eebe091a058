// Package xades implements component C6, the XAdES Orchestrator: the
// public Sign/Verify/CounterSign entrypoints that drive the lower-level
// internal/dsig (C4), internal/refs (C3), internal/xmltree (C1),
// internal/canon (C2), internal/certbind (C5), internal/tsa (C7), and
// internal/countersig (C8) collaborators through the
// Init -> DocLoaded -> QPBuilt -> ReferencesAdded ->
// SignedInfoCanonicalized -> Signed -> Emitted signing lifecycle
// (spec.md §4.6, §5). Grounded on
// jhoicas-Inventario-api/internal/domain/dian/signer.go's Signer
// interface shape: a handful of collaborator-backed methods driven by an
// orchestrator struct, rather than a monolithic procedure.
package xades

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way spec.md §7 requires, so callers can
// branch on KindOf(err) instead of string-matching error text.
type Kind string

const (
	KindInvalidInput               Kind = "InvalidInput"
	KindDocumentConflict           Kind = "DocumentConflict"
	KindStructuralMismatch         Kind = "StructuralMismatch"
	KindReferenceDigestMismatch    Kind = "ReferenceDigestMismatch"
	KindSignatureCryptoInvalid     Kind = "SignatureCryptoInvalid"
	KindCertificateBindingMismatch Kind = "CertificateBindingMismatch"
	KindTimestampInvalid           Kind = "TimestampInvalid"
	KindTimestampInconclusive      Kind = "TimestampInconclusive"
	KindCounterSignatureInvalid    Kind = "CounterSignatureInvalid"
	KindPolicyMissing              Kind = "PolicyMissing"
	KindPolicyDigestMismatch       Kind = "PolicyDigestMismatch"
	KindExternalFetchFailed        Kind = "ExternalFetchFailed"
)

// Error is the concrete error type every xades entrypoint returns on
// failure: a Kind for programmatic dispatch, the failing operation name,
// and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("xades: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("xades: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or "" if err is nil or not an
// *Error (or does not wrap one).
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
