package xades

// signState tracks a single Sign/PrepareSignedInfo call through the
// lifecycle spec.md §5 fixes: Init -> DocLoaded -> QPBuilt ->
// ReferencesAdded -> SignedInfoCanonicalized -> Signed -> Emitted.
// Nothing currently inspects the value after the fact; it exists so each
// transition has one place to log from and so a future caller-visible
// progress callback has something to hang off.
type signState int

const (
	stateInit signState = iota
	stateDocLoaded
	stateQPBuilt
	stateReferencesAdded
	stateSignedInfoCanonicalized
	stateSigned
	stateEmitted
)

func (s signState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateDocLoaded:
		return "DocLoaded"
	case stateQPBuilt:
		return "QPBuilt"
	case stateReferencesAdded:
		return "ReferencesAdded"
	case stateSignedInfoCanonicalized:
		return "SignedInfoCanonicalized"
	case stateSigned:
		return "Signed"
	case stateEmitted:
		return "Emitted"
	default:
		return "Unknown"
	}
}

func (s *Signer) transition(from signState, to signState, msg string) signState {
	s.logger().Debug().Str("from", from.String()).Str("to", to.String()).Msg(msg)
	return to
}
