// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import "encoding/binary"

// An AddressSpace is a typed view of the target's virtual memory. Every
// access is forwarded to the engine; transfers that come back short fail
// with ShortTransfer.
type AddressSpace struct {
	engine Engine
	order  binary.ByteOrder
}

// NewAddressSpace returns a little-endian view of the engine's memory.
func NewAddressSpace(e Engine) *AddressSpace {
	return &AddressSpace{engine: e, order: binary.LittleEndian}
}

// Read returns n bytes starting at addr.
func (s *AddressSpace) Read(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, NewError(InvalidArgument, "read memory", "negative length %d", n)
	}
	b, err := s.engine.ReadMemory(addr, n)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, NewError(ShortTransfer, "read memory", "read %d of %d bytes at 0x%x", len(b), n, addr)
	}
	return b, nil
}

// Write stores b at addr.
func (s *AddressSpace) Write(addr uint64, b []byte) error {
	return s.WriteRange(addr, len(b), b)
}

// WriteRange stores b into the n-byte range starting at addr. The buffer
// must exactly fill the range; otherwise nothing is written.
func (s *AddressSpace) WriteRange(addr uint64, n int, b []byte) error {
	if len(b) != n {
		return NewError(ShortTransfer, "write memory", "buffer of %d bytes for range of %d", len(b), n)
	}
	written, err := s.engine.WriteMemory(addr, b)
	if err != nil {
		return err
	}
	if written != n {
		return NewError(ShortTransfer, "write memory", "wrote %d of %d bytes at 0x%x", written, n, addr)
	}
	return nil
}

// LoadByte returns the byte at addr.
func (s *AddressSpace) LoadByte(addr uint64) (byte, error) {
	b, err := s.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// StoreByte stores a byte at addr.
func (s *AddressSpace) StoreByte(addr uint64, v byte) error {
	return s.Write(addr, []byte{v})
}

// unpack reads a width-byte unsigned value.
func (s *AddressSpace) unpack(addr uint64, width int) (uint64, error) {
	b, err := s.Read(addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(s.order.Uint16(b)), nil
	case 4:
		return uint64(s.order.Uint32(b)), nil
	default:
		return s.order.Uint64(b), nil
	}
}

// pack writes v as a width-byte value, truncating high bits.
func (s *AddressSpace) pack(addr uint64, width int, v uint64) error {
	b := make([]byte, width)
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		s.order.PutUint16(b, uint16(v))
	case 4:
		s.order.PutUint32(b, uint32(v))
	default:
		s.order.PutUint64(b, v)
	}
	return s.Write(addr, b)
}

func (s *AddressSpace) ReadUint8(addr uint64) (uint8, error) {
	v, err := s.unpack(addr, 1)
	return uint8(v), err
}

func (s *AddressSpace) ReadUint16(addr uint64) (uint16, error) {
	v, err := s.unpack(addr, 2)
	return uint16(v), err
}

func (s *AddressSpace) ReadUint32(addr uint64) (uint32, error) {
	v, err := s.unpack(addr, 4)
	return uint32(v), err
}

func (s *AddressSpace) ReadUint64(addr uint64) (uint64, error) {
	return s.unpack(addr, 8)
}

func (s *AddressSpace) ReadInt8(addr uint64) (int8, error) {
	v, err := s.unpack(addr, 1)
	return int8(v), err
}

func (s *AddressSpace) ReadInt16(addr uint64) (int16, error) {
	v, err := s.unpack(addr, 2)
	return int16(v), err
}

func (s *AddressSpace) ReadInt32(addr uint64) (int32, error) {
	v, err := s.unpack(addr, 4)
	return int32(v), err
}

func (s *AddressSpace) ReadInt64(addr uint64) (int64, error) {
	v, err := s.unpack(addr, 8)
	return int64(v), err
}

func (s *AddressSpace) WriteUint8(addr uint64, v uint8) error {
	return s.pack(addr, 1, uint64(v))
}

func (s *AddressSpace) WriteUint16(addr uint64, v uint16) error {
	return s.pack(addr, 2, uint64(v))
}

func (s *AddressSpace) WriteUint32(addr uint64, v uint32) error {
	return s.pack(addr, 4, uint64(v))
}

func (s *AddressSpace) WriteUint64(addr uint64, v uint64) error {
	return s.pack(addr, 8, v)
}

func (s *AddressSpace) WriteInt8(addr uint64, v int8) error {
	return s.pack(addr, 1, uint64(v))
}

func (s *AddressSpace) WriteInt16(addr uint64, v int16) error {
	return s.pack(addr, 2, uint64(v))
}

func (s *AddressSpace) WriteInt32(addr uint64, v int32) error {
	return s.pack(addr, 4, uint64(v))
}

func (s *AddressSpace) WriteInt64(addr uint64, v int64) error {
	return s.pack(addr, 8, uint64(v))
}

// PointerSize returns the target's pointer width in bytes. The engine is
// asked on every call, since the target mode can change during a session.
func (s *AddressSpace) PointerSize() (int, error) {
	is64, err := s.engine.Is64Bit()
	if err != nil {
		return 0, err
	}
	if is64 {
		return 8, nil
	}
	return 4, nil
}

// ReadPointer returns the pointer stored at addr.
func (s *AddressSpace) ReadPointer(addr uint64) (uint64, error) {
	width, err := s.PointerSize()
	if err != nil {
		return 0, err
	}
	return s.unpack(addr, width)
}

// WritePointer stores a pointer at addr.
func (s *AddressSpace) WritePointer(addr uint64, v uint64) error {
	width, err := s.PointerSize()
	if err != nil {
		return err
	}
	return s.pack(addr, width, v)
}
