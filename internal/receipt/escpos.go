package receipt

import "bytes"

// ESC/POS control sequences understood by 58mm thermal printers.
var (
	cmdInit            = []byte{0x1b, 0x40}
	cmdAlignCenter     = []byte{0x1b, 0x61, 0x01}
	cmdAlignLeft       = []byte{0x1b, 0x61, 0x00}
	cmdBoldOn          = []byte{0x1b, 0x45, 0x01}
	cmdBoldOff         = []byte{0x1b, 0x45, 0x00}
	cmdDoubleStrikeOn  = []byte{0x1b, 0x47, 0x01}
	cmdDoubleStrikeOff = []byte{0x1b, 0x47, 0x00}
	cmdFeedAndCut      = []byte{0x0a, 0x0a, 0x0a, 0x1d, 0x56, 0x01}
	cmdPartialCut      = []byte{0x1d, 0x56, 0x42, 0x00}
	cmdDrawerKick      = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
)

const lineFeed = 0x0a

// Builder accumulates a receipt. Every method returns the builder so calls
// can be chained; New starts with a printer reset.
type Builder struct {
	buf bytes.Buffer
}

func New() *Builder {
	b := &Builder{}
	b.buf.Write(cmdInit)
	return b
}

func (b *Builder) Center() *Builder { b.buf.Write(cmdAlignCenter); return b }
func (b *Builder) Left() *Builder   { b.buf.Write(cmdAlignLeft); return b }

func (b *Builder) Bold(on bool) *Builder {
	if on {
		b.buf.Write(cmdBoldOn)
	} else {
		b.buf.Write(cmdBoldOff)
	}
	return b
}

func (b *Builder) DoubleStrike(on bool) *Builder {
	if on {
		b.buf.Write(cmdDoubleStrikeOn)
	} else {
		b.buf.Write(cmdDoubleStrikeOff)
	}
	return b
}

// Text writes s as UTF-8 without adding a line feed.
func (b *Builder) Text(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Line writes s followed by a line feed.
func (b *Builder) Line(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte(lineFeed)
	return b
}

func (b *Builder) Pair(left, right string) *Builder {
	b.buf.WriteString(FormatLine(left, right))
	return b
}

func (b *Builder) Feed(lines int) *Builder {
	for i := 0; i < lines; i++ {
		b.buf.WriteByte(lineFeed)
	}
	return b
}

func (b *Builder) FeedAndCut() *Builder { b.buf.Write(cmdFeedAndCut); return b }
func (b *Builder) PartialCut() *Builder { b.buf.Write(cmdPartialCut); return b }
func (b *Builder) KickDrawer() *Builder { b.buf.Write(cmdDrawerKick); return b }

func (b *Builder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// DrawerKick is the pin-2 pulse that opens a cash drawer wired to the printer.
func DrawerKick() []byte {
	return bytes.Clone(cmdDrawerKick)
}
