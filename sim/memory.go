// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import "sort"

const (
	pageSize  = 0x1000
	pageShift = 12
)

// PagedMemory is a sparse 64-bit address space. Only mapped pages can be
// read or written; a transfer stops at the first unmapped byte.
type PagedMemory struct {
	pages map[uint64]*[pageSize]byte
}

// NewPagedMemory creates an empty address space.
func NewPagedMemory() *PagedMemory {
	return &PagedMemory{pages: make(map[uint64]*[pageSize]byte)}
}

// Map makes the pages covering [base, base+size) accessible. Pages that are
// already mapped keep their contents.
func (m *PagedMemory) Map(base, size uint64) {
	if size == 0 {
		return
	}
	for p := base >> pageShift; p <= (base+size-1)>>pageShift; p++ {
		if _, ok := m.pages[p]; !ok {
			m.pages[p] = new([pageSize]byte)
		}
	}
}

// Unmap removes the pages covering [base, base+size).
func (m *PagedMemory) Unmap(base, size uint64) {
	if size == 0 {
		return
	}
	for p := base >> pageShift; p <= (base+size-1)>>pageShift; p++ {
		delete(m.pages, p)
	}
}

// Mapped reports whether addr is accessible.
func (m *PagedMemory) Mapped(addr uint64) bool {
	_, ok := m.pages[addr>>pageShift]
	return ok
}

// LoadBytes fills b from memory starting at addr and returns the number of
// bytes copied.
func (m *PagedMemory) LoadBytes(addr uint64, b []byte) int {
	n := 0
	for n < len(b) {
		page, ok := m.pages[addr>>pageShift]
		if !ok {
			break
		}
		c := copy(b[n:], page[addr&(pageSize-1):])
		n += c
		addr += uint64(c)
	}
	return n
}

// StoreBytes copies b into memory starting at addr and returns the number
// of bytes stored.
func (m *PagedMemory) StoreBytes(addr uint64, b []byte) int {
	n := 0
	for n < len(b) {
		page, ok := m.pages[addr>>pageShift]
		if !ok {
			break
		}
		c := copy(page[addr&(pageSize-1):], b[n:])
		n += c
		addr += uint64(c)
	}
	return n
}

// LoadAddress loads a little-endian pointer of the given width.
func (m *PagedMemory) LoadAddress(addr uint64, width int) (uint64, bool) {
	b := make([]byte, width)
	if m.LoadBytes(addr, b) != width {
		return 0, false
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, true
}

// StoreAddress stores a little-endian pointer of the given width.
func (m *PagedMemory) StoreAddress(addr uint64, width int, v uint64) bool {
	b := make([]byte, width)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return m.StoreBytes(addr, b) == width
}

// Pages returns the base addresses of all mapped pages in order.
func (m *PagedMemory) Pages() []uint64 {
	bases := make([]uint64, 0, len(m.pages))
	for p := range m.pages {
		bases = append(bases, p<<pageShift)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases
}

func (m *PagedMemory) page(base uint64) []byte {
	if p, ok := m.pages[base>>pageShift]; ok {
		return p[:]
	}
	return nil
}

func (m *PagedMemory) setPage(base uint64, b []byte) {
	p := new([pageSize]byte)
	copy(p[:], b)
	m.pages[base>>pageShift] = p
}
