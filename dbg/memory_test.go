// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg_test

import (
	"testing"

	"github.com/beevik/buggery/dbg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const heap = 0x00600000

func TestReadShortTransfer(t *testing.T) {
	s, e, _ := newTarget(t, 8)
	e.Map(heap, 0x1000)
	mem := s.Memory()

	_, err := mem.Read(heap+0xffc, 8)
	assert.Equal(t, dbg.ShortTransfer, dbg.KindOf(err))
	assert.ErrorIs(t, err, dbg.ErrShortTransfer)

	_, err = mem.ReadUint64(heap + 0xffc)
	assert.Equal(t, dbg.ShortTransfer, dbg.KindOf(err))

	_, err = mem.Read(0x10, 4)
	assert.Equal(t, dbg.EngineFailure, dbg.KindOf(err))

	b, err := mem.Read(heap+0xffc, 4)
	require.NoError(t, err)
	assert.Len(t, b, 4)
}

func TestWriteRangeMismatchWritesNothing(t *testing.T) {
	s, e, ce := newTarget(t, 8)
	e.Map(heap, 0x1000)
	mem := s.Memory()

	err := mem.WriteRange(heap, 4, []byte{1, 2})
	assert.Equal(t, dbg.ShortTransfer, dbg.KindOf(err))
	assert.Zero(t, ce.writes)

	v, err := mem.ReadUint32(heap)
	require.NoError(t, err)
	assert.Zero(t, v)

	err = mem.Write(heap+0xffe, []byte{1, 2, 3, 4})
	assert.Equal(t, dbg.ShortTransfer, dbg.KindOf(err))
	assert.Equal(t, 1, ce.writes)
}

func TestLittleEndian(t *testing.T) {
	s, e, _ := newTarget(t, 8)
	e.Map(heap, 0x1000)
	mem := s.Memory()

	require.NoError(t, mem.WriteUint32(heap, 0x11223344))
	b, err := mem.Read(heap, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, b)

	require.NoError(t, mem.WriteInt16(heap+8, -2))
	u, err := mem.ReadUint16(heap + 8)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xfffe), u)

	require.NoError(t, mem.StoreByte(heap+16, 0x7f))
	c, err := mem.LoadByte(heap + 16)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7f), c)
}

func TestTypedRoundTrip(t *testing.T) {
	s, e, _ := newTarget(t, 8)
	e.Map(heap, 0x1000)
	mem := s.Memory()

	rapid.Check(t, func(t *rapid.T) {
		addr := heap + rapid.Uint64Range(0, 0x1000-8).Draw(t, "offset")
		v := rapid.Uint64().Draw(t, "value")

		if err := mem.WriteUint8(addr, uint8(v)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadUint8(addr); got != uint8(v) {
			t.Fatalf("uint8: got %#x, want %#x", got, uint8(v))
		}
		if err := mem.WriteUint16(addr, uint16(v)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadUint16(addr); got != uint16(v) {
			t.Fatalf("uint16: got %#x, want %#x", got, uint16(v))
		}
		if err := mem.WriteUint32(addr, uint32(v)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadUint32(addr); got != uint32(v) {
			t.Fatalf("uint32: got %#x, want %#x", got, uint32(v))
		}
		if err := mem.WriteUint64(addr, v); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadUint64(addr); got != v {
			t.Fatalf("uint64: got %#x, want %#x", got, v)
		}

		i := int64(v)
		if err := mem.WriteInt8(addr, int8(i)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadInt8(addr); got != int8(i) {
			t.Fatalf("int8: got %d, want %d", got, int8(i))
		}
		if err := mem.WriteInt16(addr, int16(i)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadInt16(addr); got != int16(i) {
			t.Fatalf("int16: got %d, want %d", got, int16(i))
		}
		if err := mem.WriteInt32(addr, int32(i)); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadInt32(addr); got != int32(i) {
			t.Fatalf("int32: got %d, want %d", got, int32(i))
		}
		if err := mem.WriteInt64(addr, i); err != nil {
			t.Fatal(err)
		}
		if got, _ := mem.ReadInt64(addr); got != i {
			t.Fatalf("int64: got %d, want %d", got, i)
		}
	})
}

func TestPointerWidthFollowsTarget(t *testing.T) {
	s, e, ce := newTarget(t, 8)
	e.Map(heap, 0x1000)
	mem := s.Memory()

	n, err := mem.PointerSize()
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	require.NoError(t, mem.WritePointer(heap, 0x1122334455667788))
	p, err := mem.ReadPointer(heap)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), p)

	require.NoError(t, e.SetPointerWidth(4))
	asks := ce.widthAsks
	n, err = mem.PointerSize()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, asks+1, ce.widthAsks)

	p, err = mem.ReadPointer(heap)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55667788), p)

	require.NoError(t, mem.WritePointer(heap+8, 0xaabbccdd11223344))
	hi, err := mem.ReadUint32(heap + 12)
	require.NoError(t, err)
	assert.Zero(t, hi)
}
