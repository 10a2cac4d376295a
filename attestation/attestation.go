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

// Package attestation provides the pluggable remote-attestation
// collaborator the session-establishment handshake drives: a server
// entry point, two client entry points (the side that opens the
// handshake and the side that responds), and a verification/revocation
// surface. SGX-specific quoting and the IAS wire exchange are
// intentionally not modeled — Provider abstracts them behind
// continuations so the handshake driver in smm never depends on a
// concrete attestation backend.
package attestation

import "github.com/diggi-project/diggicore/msg"

// FlowResult is handed back to the continuation a handshake step
// registers; Err is nil only on Verified.
type FlowResult struct {
	Verified bool
	Evidence []byte
	Err      error
}

// Continuation is invoked once a flow step completes, possibly on a
// different thread than the one that started it — attestation flows may
// involve out-of-band round trips (quoting services, IAS) that do not
// complete synchronously.
type Continuation func(FlowResult)

// Provider is the pluggable attestation collaborator.
type Provider interface {
	// ServerFlowEntry runs the server side of a handshake's attestation
	// step against a peer identified by from, invoking done when ready.
	ServerFlowEntry(from msg.Aid, challenge []byte, done Continuation)
	// ClientInitiatorEntry runs the side that opens a session.
	ClientInitiatorEntry(to msg.Aid, done Continuation)
	// ClientResponderEntry runs the side that responds to a peer's
	// opened session.
	ClientResponderEntry(from msg.Aid, challenge []byte, done Continuation)
	// Attestable reports whether this Provider can produce evidence at
	// all (false for a pure verifier-only deployment).
	Attestable() bool
	// Verify checks evidence produced by a ClientInitiatorEntry or
	// ServerFlowEntry call against this Provider's trust root.
	Verify(evidence []byte) (FlowResult, error)
	// SignatureRevocationList returns the current revocation list this
	// Provider checks evidence against, if any.
	SignatureRevocationList() []byte
}

// Null is a Provider that always succeeds without producing real
// evidence, for standalone/test runs where no attestation backend is
// wired in.
type Null struct{}

func (Null) ServerFlowEntry(from msg.Aid, challenge []byte, done Continuation) {
	done(FlowResult{Verified: true})
}

func (Null) ClientInitiatorEntry(to msg.Aid, done Continuation) {
	done(FlowResult{Verified: true})
}

func (Null) ClientResponderEntry(from msg.Aid, challenge []byte, done Continuation) {
	done(FlowResult{Verified: true})
}

func (Null) Attestable() bool { return false }

func (Null) Verify(evidence []byte) (FlowResult, error) {
	return FlowResult{Verified: true}, nil
}

func (Null) SignatureRevocationList() []byte { return nil }
