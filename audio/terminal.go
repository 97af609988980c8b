// USB Audio Class 2.0 staging buffer
// https://github.com/usbarmory/tamago-audio
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package audio

// TerminalEntry is one selectable capture-side driver: a packet size and
// the play/pause-resume callback pair SetDriver rebinds onto the target
// UM buffer.
type TerminalEntry struct {
	PacketSize  uint32
	Play        PlayFunc
	PauseResume PauseResumeFunc
}

// TerminalSwitch implements the selector-unit SET_CUR/GET_CUR protocol of
// spec.md §4.4: it holds a small table of capture-side drivers (e.g. PDM
// mic vs. analog mic) and atomically rebinds a UM buffer's driver on
// selection, committing the new selector value only if SetDriver succeeds.
type TerminalSwitch struct {
	buf     *UMBuffer
	entries []TerminalEntry
	current int
}

// NewTerminalSwitch builds a switch over buf with the given terminal
// table. current defaults to entry 1 (1-based, per USB Audio Class
// SELECTOR numbering); board bring-up is expected to have already
// configured buf to match entries[0] before the first Select call.
func NewTerminalSwitch(buf *UMBuffer, entries []TerminalEntry) *TerminalSwitch {
	return &TerminalSwitch{buf: buf, entries: entries, current: 1}
}

// Select performs the selector-unit SET_CUR: it looks up index (1-based)
// in the terminal table and calls SetDriver on the target buffer. The
// persisted selector value only advances on success — on failure the
// caller should STALL the control request and GET_CUR keeps reporting the
// previous value.
func (t *TerminalSwitch) Select(index int) error {
	i := index - 1
	if i < 0 || i >= len(t.entries) {
		return ErrArgs
	}

	e := t.entries[i]
	if err := t.buf.SetDriver(e.PacketSize, e.Play, e.PauseResume); err != nil {
		return err
	}

	t.current = index
	return nil
}

// Current returns the last successfully-set selector value (1-based), for
// GET_CUR.
func (t *TerminalSwitch) Current() int {
	return t.current
}
