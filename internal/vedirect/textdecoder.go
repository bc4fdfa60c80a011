// Package vedirect implements the VE.Direct MPPT controller: a TEXT-frame
// key/value decoder and a 14-entry HEX request/response scheduler, the two
// concurrent substreams Victron devices multiplex over a single UART.
package vedirect

// TextFrame is the decoded key-value set of one successfully CRC-checked
// VE.Direct TEXT block.
type TextFrame map[string]string

// TextDecoder accumulates raw bytes from the VE.Direct TEXT substream one
// at a time and emits a TextFrame each time a block's trailing "Checksum"
// field validates: the running byte sum of the whole block, mod 256, must
// be zero. A failed checksum silently discards the block's fields.
type TextDecoder struct {
	fields   map[string]string
	curLabel []byte
	curValue []byte
	inLabel  bool
	sum      byte
	blockSum byte // sum as of the last byte that was not CR or LF
	idle     bool
}

// NewTextDecoder constructs a decoder ready to receive the start of a block.
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{
		fields:  map[string]string{},
		inLabel: true,
		idle:    true,
	}
}

// Feed processes one incoming byte and returns a non-nil TextFrame exactly
// when a complete block's checksum validates.
func (d *TextDecoder) Feed(b byte) TextFrame {
	d.sum += b
	if b != '\r' && b != '\n' {
		d.blockSum = d.sum
	}
	d.idle = false

	switch b {
	case '\t':
		d.inLabel = false
		return nil
	case '\r':
		return nil
	case '\n':
		label := string(d.curLabel)
		value := string(d.curValue)
		d.curLabel = d.curLabel[:0]
		d.curValue = d.curValue[:0]
		d.inLabel = true

		if label == "" {
			return nil
		}

		if label == "Checksum" {
			// The block ends at the checksum byte; the line terminator
			// read after it is carried into the next block's sum.
			ok := d.blockSum == 0
			d.sum -= d.blockSum
			frame := d.fields
			d.fields = map[string]string{}
			d.idle = true
			if !ok {
				return nil
			}
			return TextFrame(frame)
		}

		d.fields[label] = value
		return nil
	default:
		if d.inLabel {
			d.curLabel = append(d.curLabel, b)
		} else {
			d.curValue = append(d.curValue, b)
		}
		return nil
	}
}

// IsIdle reports whether the decoder is at a block boundary, i.e. not in
// the middle of receiving a TEXT frame. The HEX scheduler only sends while
// this holds, so a TEXT block in flight is never interrupted.
func (d *TextDecoder) IsIdle() bool {
	return d.idle
}
