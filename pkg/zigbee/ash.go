package zigbee

import "errors"

// ASH protocol constants
const (
	ashFlagByte   = 0x7E
	ashEscapeByte = 0x7D
	ashXON        = 0x11
	ashXOFF       = 0x13
	ashFlipBit    = 0x20
	ashCancelByte = 0x1A
	ashSubstitute = 0x18

	// Frame types (encoded in control byte)
	ashFrameData   = 0x00 // bit 7 = 0
	ashFrameACK    = 0x80 // 0b10000xxx
	ashFrameNAK    = 0xA0 // 0b10100xxx
	ashFrameRST    = 0xC0
	ashFrameRSTACK = 0xC1
	ashFrameERROR  = 0xC2

	ashMaxFrameLen = 256
)

var (
	errFrameShort = errors.New("ash frame too short")
	errFrameCRC   = errors.New("ash crc mismatch")
)

type frameKind int

const (
	frameUnknown frameKind = iota
	frameData
	frameACK
	frameNAK
	frameRST
	frameRSTACK
	frameError
)

func (k frameKind) String() string {
	switch k {
	case frameData:
		return "DATA"
	case frameACK:
		return "ACK"
	case frameNAK:
		return "NAK"
	case frameRST:
		return "RST"
	case frameRSTACK:
		return "RSTACK"
	case frameError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ashFrame is a decoded frame without flag, stuffing or CRC.
type ashFrame struct {
	control byte
	data    []byte
}

func (f ashFrame) kind() frameKind {
	switch {
	case f.control == ashFrameRST:
		return frameRST
	case f.control == ashFrameRSTACK:
		return frameRSTACK
	case f.control == ashFrameERROR:
		return frameError
	case f.control&0x80 == ashFrameData:
		return frameData
	case f.control&0xE0 == ashFrameACK:
		return frameACK
	case f.control&0xE0 == ashFrameNAK:
		return frameNAK
	default:
		return frameUnknown
	}
}

// frameNum is the sender sequence of a DATA frame.
func (f ashFrame) frameNum() uint8 { return (f.control >> 4) & 0x07 }

// encodeFrame stuffs control+data+CRC and appends the flag byte.
func encodeFrame(control byte, data []byte) []byte {
	raw := make([]byte, 0, len(data)+3)
	raw = append(raw, control)
	raw = append(raw, data...)
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))

	frame := ashStuff(raw)
	return append(frame, ashFlagByte)
}

// encodeRST is a cancel byte, flushing the NCP receiver, followed by RST.
func encodeRST() []byte {
	return append([]byte{ashCancelByte}, encodeFrame(ashFrameRST, nil)...)
}

func encodeACK(ackNum uint8) []byte {
	return encodeFrame(byte(ashFrameACK)|(ackNum&0x07), nil)
}

// frameDecoder splits a byte stream into frames.
type frameDecoder struct {
	buf []byte
}

// feed consumes one byte. It returns done once a flag byte closes a
// non-empty frame; err is set when that frame is malformed.
func (d *frameDecoder) feed(b byte) (f ashFrame, done bool, err error) {
	switch b {
	case ashCancelByte, ashSubstitute:
		d.buf = d.buf[:0]
		return ashFrame{}, false, nil
	case ashXON, ashXOFF:
		return ashFrame{}, false, nil
	case ashFlagByte:
		if len(d.buf) == 0 {
			return ashFrame{}, false, nil
		}
		f, err = decodeFrame(d.buf)
		d.buf = d.buf[:0]
		return f, true, err
	}

	d.buf = append(d.buf, b)
	if len(d.buf) > ashMaxFrameLen {
		d.buf = d.buf[:0]
	}
	return ashFrame{}, false, nil
}

func decodeFrame(stuffed []byte) (ashFrame, error) {
	raw := ashUnstuff(stuffed)
	if len(raw) < 3 {
		return ashFrame{}, errFrameShort
	}
	body := raw[:len(raw)-2]
	received := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
	if received != crcCCITT(body) {
		return ashFrame{}, errFrameCRC
	}
	data := make([]byte, len(body)-1)
	copy(data, body[1:])
	return ashFrame{control: body[0], data: data}, nil
}

// ashStuff performs ASH byte stuffing.
func ashStuff(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		switch b {
		case ashFlagByte, ashEscapeByte, ashXON, ashXOFF, ashSubstitute, ashCancelByte:
			out = append(out, ashEscapeByte, b^ashFlipBit)
		default:
			out = append(out, b)
		}
	}
	return out
}

// ashUnstuff reverses ASH byte stuffing.
func ashUnstuff(data []byte) []byte {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^ashFlipBit)
			escaped = false
		case b == ashEscapeByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	return out
}

// crcCCITT computes CRC-CCITT (0xFFFF initial, poly 0x1021).
func crcCCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
