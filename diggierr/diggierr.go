// Copyright (C) 2026 diggi-project contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package diggierr defines the messaging core's error kinds as
// errors.Is-compatible sentinels, and Kind.IsFatal, which marks the kinds
// that count as fatal. The Fatal hook itself is runtime.Runtime.Fatal in
// internal/runtime.
package diggierr

import "errors"

// Kind classifies an error for callers that need to branch on it rather
// than just log it (e.g. the replay manager deciding whether to halt).
type Kind int

const (
	Unknown Kind = iota
	MsgTooLarge
	UnknownPeer
	HandshakePending
	AuthFail
	NonceWrap
	OrderViolation
	HandlerMissing
	StopRequested
)

func (k Kind) String() string {
	switch k {
	case MsgTooLarge:
		return "MSG_TOO_LARGE"
	case UnknownPeer:
		return "UNKNOWN_PEER"
	case HandshakePending:
		return "HANDSHAKE_PENDING"
	case AuthFail:
		return "AUTH_FAIL"
	case NonceWrap:
		return "NONCE_WRAP"
	case OrderViolation:
		return "ORDER_VIOLATION"
	case HandlerMissing:
		return "HANDLER_MISSING"
	case StopRequested:
		return "STOP_REQUESTED"
	default:
		return "UNKNOWN"
	}
}

// Error pairs a Kind with context; errors.Is compares on Kind alone so
// sentinels below work with wrapped errors via fmt.Errorf("...: %w").
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error of the given kind with a message.
func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// Sentinels for errors.Is comparisons: errors.Is(err, diggierr.ErrAuthFail).
var (
	ErrMsgTooLarge      = &Error{Kind: MsgTooLarge}
	ErrUnknownPeer      = &Error{Kind: UnknownPeer}
	ErrHandshakePending = &Error{Kind: HandshakePending}
	ErrAuthFail         = &Error{Kind: AuthFail}
	ErrNonceWrap        = &Error{Kind: NonceWrap}
	ErrOrderViolation   = &Error{Kind: OrderViolation}
	ErrHandlerMissing   = &Error{Kind: HandlerMissing}
	ErrStopRequested    = &Error{Kind: StopRequested}
)

// IsFatal reports whether a Kind must route through Runtime.Fatal rather
// than be handled as a recoverable per-call error.
func (k Kind) IsFatal() bool {
	switch k {
	case AuthFail, NonceWrap, OrderViolation:
		return true
	default:
		return false
	}
}

// As is a small helper mirroring errors.As for *Error without forcing
// every caller to declare a local variable.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
