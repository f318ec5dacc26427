package mangle

import (
	"errors"

	"github.com/veesix-networks/cmopt122/pkg/dhcp"
)

const (
	SubOptionPrimaryServer uint8 = 1

	primaryServerLen = 4
	minOption122Len  = 2 + primaryServerLen
)

var ErrNotApplicable = errors.New("option 122 does not start with a primary dhcp server sub-option")

// hasPrimaryServer reports whether opt is option 122 whose value begins with
// sub-option 1 of length 4.
func hasPrimaryServer(opt dhcp.OptionView) bool {
	if opt.Code() != dhcp.OptionCableLabsClientConfig {
		return false
	}
	value := opt.Value()
	return len(value) >= minOption122Len &&
		value[0] == SubOptionPrimaryServer &&
		value[1] == primaryServerLen
}

// primaryServer returns the address of the first sub-option 1 anywhere in the
// option value, which need not be the leading sub-option.
func primaryServer(opt dhcp.OptionView) ([4]byte, bool) {
	var a [4]byte
	sub, ok := dhcp.FindSubOption(opt.Value(), SubOptionPrimaryServer)
	if !ok || len(sub) != 2+primaryServerLen {
		return a, false
	}
	copy(a[:], sub[2:])
	return a, true
}

// RewritePrimaryServer overwrites the four address bytes of sub-option 1 with
// the server derived from yiaddr. Length bytes are never written. When the
// option has another shape, or yiaddr is not in a watched range, nothing is
// touched and ErrNotApplicable is returned.
//
// opt must have been located on the buffer that is about to be written.
func RewritePrimaryServer(opt dhcp.OptionView, yiaddr [4]byte) error {
	if !hasPrimaryServer(opt) {
		return ErrNotApplicable
	}

	class := ClassifyAddress(yiaddr)
	if !class.Watched {
		return ErrNotApplicable
	}

	copy(opt.Value()[2:minOption122Len], class.Server[:])
	return nil
}
