package itch

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming marks a malformed or truncated frame. The stream cannot be resynchronised.
	ErrFraming = errors.New("itch: framing error")
	// ErrUnknownType marks a type tag with no layout for the active version.
	ErrUnknownType = errors.New("itch: unknown message type")
	// ErrLayoutMismatch marks a payload whose size disagrees with its layout.
	ErrLayoutMismatch = errors.New("itch: payload does not match layout")
	// ErrUnsupportedVersion is returned for protocol versions without a layout table.
	ErrUnsupportedVersion = errors.New("itch: unsupported protocol version")
)

// FramingError reports where in the stream framing broke down.
type FramingError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("itch: framing error at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("itch: framing error at offset %d: %s", e.Offset, e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// UnknownTypeError is tolerated by the pipeline: the frame is skipped.
type UnknownTypeError struct {
	Version Version
	Tag     byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("itch: unknown message type %q for version %s", e.Tag, e.Version)
}

func (e *UnknownTypeError) Is(target error) bool { return target == ErrUnknownType }

// LayoutMismatchError usually means the configured protocol version is wrong for the file.
type LayoutMismatchError struct {
	Version Version
	Tag     byte
	Want    int
	Got     int
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("itch: %q payload is %d bytes, version %s layout needs %d", e.Tag, e.Got, e.Version, e.Want)
}

func (e *LayoutMismatchError) Is(target error) bool { return target == ErrLayoutMismatch }
