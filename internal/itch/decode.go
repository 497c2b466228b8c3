package itch

import (
	"bytes"

	"github.com/Aidin1998/itchbook/pkg/models"
)

const nanosPerSecond = 1_000_000_000

// Decode interprets the payload of one frame under version v. It is a pure
// function of its inputs; the seconds clock is the caller's concern.
func Decode(v Version, tag byte, payload []byte) (Message, error) {
	l, err := Lookup(v, tag)
	if err != nil {
		return Message{}, err
	}
	if len(payload) != l.Size {
		return Message{}, &LayoutMismatchError{Version: v, Tag: tag, Want: l.Size, Got: len(payload)}
	}
	m := Message{Type: tag}
	for _, f := range l.Fields {
		b := payload[f.Offset : f.Offset+f.Width]
		switch f.Codec {
		case CodecUint:
			setUint(&m, f, readUint(b))
		case CodecChar:
			setChar(&m, f.Name, b[0])
		case CodecASCII:
			setASCII(&m, f.Name, trimASCII(b))
		}
	}
	return m, nil
}

// DecodeFrame is Decode applied to a RawFrame.
func DecodeFrame(v Version, fr RawFrame) (Message, error) {
	return Decode(v, fr.Tag, fr.Payload)
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func trimASCII(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

func setUint(m *Message, f FieldSpec, v uint64) {
	switch f.Name {
	case FieldSeconds:
		m.Sec = uint32(v)
	case FieldNanos:
		if f.Width > 4 {
			m.Sec = uint32(v / nanosPerSecond)
			m.Nano = uint32(v % nanosPerSecond)
		} else {
			m.Nano = uint32(v)
		}
	case FieldLocate:
		m.Locate = uint16(v)
	case FieldTracking:
		m.Tracking = uint16(v)
	case FieldRefNo:
		m.RefNo = v
	case FieldNewRefNo:
		m.NewRefNo = v
	case FieldShares:
		m.Shares = uint32(v)
	case FieldPrice:
		m.Price = uint32(v)
	case FieldMatchNo:
		m.MatchNo = v
	case FieldExecPrice:
		m.ExecPrice = uint32(v)
	case FieldCrossShares:
		m.CrossShares = v
	case FieldPaired:
		m.Paired = v
	case FieldImbalance:
		m.Imbalance = v
	case FieldFar:
		m.Far = uint32(v)
	case FieldNear:
		m.Near = uint32(v)
	case FieldCurrent:
		m.Current = uint32(v)
	}
}

func setChar(m *Message, name Field, c byte) {
	switch name {
	case FieldEvent, FieldState:
		m.Event = c
	case FieldReserved:
		m.Reserved = c
	case FieldSide:
		m.Side = models.Side(c)
	case FieldPrintable:
		m.Printable = c
	case FieldCrossType:
		m.CrossType = c
	case FieldDirection:
		m.Direction = models.Side(c)
	case FieldVariation:
		m.Variation = c
	}
}

func setASCII(m *Message, name Field, s string) {
	switch name {
	case FieldStock:
		m.Stock = s
	case FieldReason:
		m.Reason = s
	case FieldMPID:
		m.MPID = s
	}
}

// PeekStock returns the trimmed symbol bytes of a payload without decoding it.
// ok is false when the layout carries no symbol.
func (l *Layout) PeekStock(payload []byte) (stock []byte, ok bool, err error) {
	f, has := l.Field(FieldStock)
	if !has {
		return nil, false, nil
	}
	if len(payload) != l.Size {
		return nil, false, &LayoutMismatchError{Version: l.Version, Tag: l.Tag, Want: l.Size, Got: len(payload)}
	}
	return bytes.TrimRight(payload[f.Offset:f.Offset+f.Width], " \x00"), true, nil
}

// PeekRefNo returns the order reference of a payload without decoding it.
func (l *Layout) PeekRefNo(payload []byte) (ref uint64, ok bool, err error) {
	f, has := l.Field(FieldRefNo)
	if !has {
		return 0, false, nil
	}
	if len(payload) != l.Size {
		return 0, false, &LayoutMismatchError{Version: l.Version, Tag: l.Tag, Want: l.Size, Got: len(payload)}
	}
	return readUint(payload[f.Offset : f.Offset+f.Width]), true, nil
}
