package streamio

import "errors"

// Sentinel errors shared by the buffer packages. Compare with errors.Is;
// wrapped forms may carry additional context via fmt.Errorf("...: %w", ...).
var (
	// ErrArgument reports a bad size or misaligned length supplied by the
	// caller, or a call the contract forbids at that moment (a second
	// concurrent pagedbuf Read). No state changes before it is returned.
	ErrArgument = errors.New("streamio: invalid argument")

	// ErrOutOfRange reports a size or offset outside what the call allows:
	// a ring commit larger than its window, a queued packet larger than
	// the read window, or a Seek/Pop offset outside the stored data.
	// The ring and packet cases are caller bugs; the buffer does not try
	// to recover.
	ErrOutOfRange = errors.New("streamio: out of range")

	// ErrShortPageWrite reports a Page.Write that consumed fewer bytes
	// than requested. Partial page writes are always fatal: pagedbuf
	// bounds every write to fit before issuing it.
	ErrShortPageWrite = errors.New("streamio: short page write")
)
