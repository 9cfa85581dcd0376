// Package ot implements 1-out-of-2 oblivious transfer: a base OT on the
// ristretto group and an IKNP extension that turns BaseCount base OTs
// into any number of cheap transfers of 64-bit messages.
package ot

import (
	"fmt"
)

const (
	// BaseCount is the number of base OTs seeding an extension.
	BaseCount = 128
	// SeedLength is the byte length of each base OT message.
	SeedLength = 16
)

var (
	ErrBaseCountMissMatch   = fmt.Errorf("provided slices is not the same length as the number of base OT")
	ErrMessageCountMismatch = fmt.Errorf("message slices have different lengths")
	ErrChoiceNotBinary      = fmt.Errorf("choice bits should be binary")
)

// Sender offers two 64-bit messages per transfer.
type Sender interface {
	Send(msg0, msg1 []uint64) error
}

// Receiver obtains one of the two messages per transfer, selected by its
// choice bit, without the sender learning which.
type Receiver interface {
	Receive(choices []uint8) ([]uint64, error)
}
