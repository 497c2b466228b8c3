package itch

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode serialises m under version v into the payload layout of m.Type.
// It is the inverse of Decode and is used to build fixtures and replay files.
func Encode(v Version, m Message) ([]byte, error) {
	l, err := Lookup(v, m.Type)
	if err != nil {
		return nil, err
	}
	out := make([]byte, l.Size)
	for _, f := range l.Fields {
		b := out[f.Offset : f.Offset+f.Width]
		switch f.Codec {
		case CodecUint:
			putUint(b, uintOf(&m, f))
		case CodecChar:
			b[0] = charOf(&m, f.Name)
		case CodecASCII:
			s := asciiOf(&m, f.Name)
			if len(s) > f.Width {
				return nil, fmt.Errorf("itch: %s %q exceeds %d bytes", f.Name, s, f.Width)
			}
			n := copy(b, s)
			for i := n; i < len(b); i++ {
				b[i] = ' '
			}
		}
	}
	return out, nil
}

// WriteFrame encodes m and writes it with its length prefix and type tag.
func WriteFrame(w io.Writer, v Version, m Message) error {
	payload, err := Encode(v, m)
	if err != nil {
		return err
	}
	frame := make([]byte, 3+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(1+len(payload)))
	frame[2] = m.Type
	copy(frame[3:], payload)
	_, err = w.Write(frame)
	return err
}

func putUint(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func uintOf(m *Message, f FieldSpec) uint64 {
	switch f.Name {
	case FieldSeconds:
		return uint64(m.Sec)
	case FieldNanos:
		if f.Width > 4 {
			return uint64(m.Sec)*nanosPerSecond + uint64(m.Nano)
		}
		return uint64(m.Nano)
	case FieldLocate:
		return uint64(m.Locate)
	case FieldTracking:
		return uint64(m.Tracking)
	case FieldRefNo:
		return m.RefNo
	case FieldNewRefNo:
		return m.NewRefNo
	case FieldShares:
		return uint64(m.Shares)
	case FieldPrice:
		return uint64(m.Price)
	case FieldMatchNo:
		return m.MatchNo
	case FieldExecPrice:
		return uint64(m.ExecPrice)
	case FieldCrossShares:
		return m.CrossShares
	case FieldPaired:
		return m.Paired
	case FieldImbalance:
		return m.Imbalance
	case FieldFar:
		return uint64(m.Far)
	case FieldNear:
		return uint64(m.Near)
	case FieldCurrent:
		return uint64(m.Current)
	}
	return 0
}

func charOf(m *Message, name Field) byte {
	switch name {
	case FieldEvent, FieldState:
		return m.Event
	case FieldReserved:
		return m.Reserved
	case FieldSide:
		return byte(m.Side)
	case FieldPrintable:
		return m.Printable
	case FieldCrossType:
		return m.CrossType
	case FieldDirection:
		return byte(m.Direction)
	case FieldVariation:
		return m.Variation
	}
	return 0
}

func asciiOf(m *Message, name Field) string {
	switch name {
	case FieldStock:
		return m.Stock
	case FieldReason:
		return m.Reason
	case FieldMPID:
		return m.MPID
	}
	return ""
}
