// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

import "errors"

// Sentinel errors for the ARGS, NOMEM, OVERFLOW and UNDERFLOW taxonomy of
// spec section 7. STATE violations are not sentinel errors: they are
// programmer errors and are reported via FatalError below.
var (
	// ErrArgs is returned for invalid construction or reconfiguration
	// arguments: nil callbacks, an unknown policy, or a packet size
	// exceeding MaxPacketSize.
	ErrArgs = errors.New("audio: invalid arguments")

	// ErrNoMem is returned when the backing DMA region could not be
	// reserved.
	ErrNoMem = errors.New("audio: backing region allocation failed")

	// ErrOverflow is returned by Enqueue under the FEEDBACK policy when
	// the producer's target node is not yet reclaimed by hardware; the
	// caller must drop the packet. Under the NONE policy the equivalent
	// condition is fatal (see FatalError) rather than recoverable.
	ErrOverflow = errors.New("audio: producer overflow, packet dropped")

	// ErrUnderflow is returned by Dequeue when the next node is not yet
	// finished by the producer; the caller must transmit silence.
	ErrUnderflow = errors.New("audio: consumer underflow")
)

// FatalError reports a violation of the node state machine invariants —
// a DMA interrupt completing into a node the hardware side does not own,
// or an overflow under a policy (NONE) that has no recovery path. These
// correspond to the original firmware's UM_ASSERT/BREAK/while(1){} halt: a
// debugging build of the original traps into a debugger if attached and
// otherwise spins forever. This is the idiomatic Go rendering of the same
// "this must never happen, and if it does the device is no longer in a
// defined state" contract: the operation that detects the condition
// (Enqueue, AudioDMACompleteCB) panics with this type, and the caller's recover (if any) should log Cause
// and treat the device as unrecoverable rather than resume.
type FatalError struct {
	Cause string
}

func (e *FatalError) Error() string {
	return "audio: fatal state machine violation: " + e.Cause
}

func fatal(cause string) {
	panic(&FatalError{Cause: cause})
}
