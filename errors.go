package player

import "errors"

// Error kinds per spec.md §7. Each is a sentinel so callers can use
// errors.Is; component code wraps these with context via fmt.Errorf("...:
// %w", ...).
var (
	// ErrTransport marks a short write, peer close, or reset. The
	// connection is closed and torn down.
	ErrTransport = errors.New("player: transport error")

	// ErrFraming marks an oversize body or malformed header. The offending
	// message is logged and skipped; the connection is kept open.
	ErrFraming = errors.New("player: framing error")

	// ErrCodec marks a control body too short or truncated to decode. The
	// control handler logs it at Warn on every occurrence and drops the
	// message.
	ErrCodec = errors.New("player: codec error")

	// ErrUnknownAddress marks a request or command addressed to a device
	// with no Device Entry. REQUESTs are NACKed; COMMANDs are silently
	// dropped (and logged at Debug).
	ErrUnknownAddress = errors.New("player: unknown device address")

	// ErrAccessDenied marks a mode mismatch on subscribe (spec.md §4.3).
	ErrAccessDenied = errors.New("player: access denied")

	// ErrDriverSetup marks a driver Setup failure. It propagates to the
	// caller; the subscription count is left at zero.
	ErrDriverSetup = errors.New("player: driver setup failed")

	// ErrRemoteDown marks a lost Remote Driver Bridge connection. In-flight
	// requests are NACKed and the bridge refuses further ones until a
	// higher layer re-subscribes.
	ErrRemoteDown = errors.New("player: remote driver unreachable")

	// ErrAuthRequired marks a message received on a connection that has not
	// yet authenticated, while the server requires it.
	ErrAuthRequired = errors.New("player: authentication required")

	// ErrAuthFailed marks a failed auth key comparison.
	ErrAuthFailed = errors.New("player: authentication failed")

	// ErrNotSubscribed marks an unsubscribe for an address the caller never
	// subscribed to.
	ErrNotSubscribed = errors.New("player: not subscribed")

	// ErrServerClosed is returned by Server methods once Stop has been
	// called.
	ErrServerClosed = errors.New("player: server closed")
)
