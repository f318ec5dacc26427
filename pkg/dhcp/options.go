package dhcp

import "fmt"

const (
	OptionPad                   uint8 = 0
	OptionOverload              uint8 = 52
	OptionMessageType           uint8 = 53
	OptionCableLabsClientConfig uint8 = 122
	OptionEnd                   uint8 = 255
)

// Option overload (code 52) flag bits.
const (
	OverloadFile  uint8 = 1
	OverloadSName uint8 = 2
)

type OptionSpace uint8

const (
	SpaceOptions OptionSpace = iota
	SpaceFile
	SpaceSName
)

func (s OptionSpace) String() string {
	switch s {
	case SpaceOptions:
		return "options"
	case SpaceFile:
		return "file"
	case SpaceSName:
		return "sname"
	default:
		return fmt.Sprintf("space(%d)", uint8(s))
	}
}

// OptionView points at one TLV inside a Message buffer. The slices it hands out
// alias the message, so writes through Value land in the packet.
type OptionView struct {
	Space  OptionSpace
	Offset int
	raw    []byte
}

func (o OptionView) Code() uint8   { return o.raw[0] }
func (o OptionView) Len() uint8    { return o.raw[1] }
func (o OptionView) Value() []byte { return o.raw[2:] }
func (o OptionView) Bytes() []byte { return o.raw }

// FindOption walks the options area and, when option 52 asks for it, the file
// and sname header fields, returning the first TLV carrying code. Every read is
// checked against the region currently being scanned; a TLV that does not fit
// ends the search.
//
// Only the first option 52 in the main options area is honoured. Regions are
// visited in the order options, file, sname, and an End marker moves to the
// next region whose overload bit is set.
func FindOption(m Message, code uint8) (OptionView, bool) {
	var (
		overload     uint8
		overloadSeen bool
	)

	space := SpaceOptions
	start, size := m.region(space)
	where := 0

	for where < size {
		data := m.buf[start+where : start+size]

		switch data[0] {
		case OptionPad:
			where++
			continue
		case OptionEnd:
			next, ok := nextSpace(space, overload)
			if !ok {
				return OptionView{}, false
			}
			space = next
			start, size = m.region(space)
			where = 0
			continue
		}

		// options overflow field
		if where+2 > size {
			return OptionView{}, false
		}

		length := int(data[1])
		// option length overflows field
		if where+2+length > size {
			return OptionView{}, false
		}

		if data[0] == code {
			n := 2 + length
			return OptionView{
				Space:  space,
				Offset: start + where,
				raw:    data[:n:n],
			}, true
		}

		if data[0] == OptionOverload && space == SpaceOptions && !overloadSeen && length >= 1 {
			overload = data[2]
			overloadSeen = true
		}

		where += 2 + length
	}

	return OptionView{}, false
}

func nextSpace(cur OptionSpace, overload uint8) (OptionSpace, bool) {
	switch cur {
	case SpaceOptions:
		if overload&OverloadFile != 0 {
			return SpaceFile, true
		}
	case SpaceFile:
		if overload&OverloadSName != 0 {
			return SpaceSName, true
		}
	}
	return cur, false
}

// FindSubOption walks the nested TLVs inside an option value and returns the
// full sub-option (code, length and value bytes) for code.
func FindSubOption(value []byte, code uint8) ([]byte, bool) {
	i := 0
	for i < len(value) {
		if i+1 >= len(value) {
			break
		}

		subLen := int(value[i+1])
		if i+2+subLen > len(value) {
			break
		}

		if value[i] == code {
			end := i + 2 + subLen
			return value[i:end:end], true
		}

		i += 2 + subLen
	}

	return nil, false
}
