// Package hashing provides the filename hash algorithms used by MIX archives
// to turn entry names into 32-bit ids.
package hashing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
	"strings"
)

// ErrUnknownHashMethod means no registered method carries the requested name.
var ErrUnknownHashMethod = errors.New("unknown hash method")

// Method hashes an entry name to the id stored in an archive index.
type Method interface {
	Name() string
	Hash(name string) uint32
}

const (
	// NameClassic is the rotate-and-add hash of Tiberian Dawn and Red Alert.
	NameClassic = "Classic"
	// NameCRC32 is the padded CRC-32 hash of Tiberian Sun and Red Alert 2.
	NameCRC32 = "CRC32"
)

// Classic hashes the upper-cased name as a sequence of zero-padded
// little-endian words, rotating the accumulator left by one before each add.
type Classic struct{}

func (Classic) Name() string { return NameClassic }

func (Classic) Hash(name string) uint32 {
	buf := upperASCII(name)
	if rem := len(buf) % 4; rem != 0 {
		buf = append(buf, make([]byte, 4-rem)...)
	}

	var id uint32
	for i := 0; i < len(buf); i += 4 {
		id = bits.RotateLeft32(id, 1) + binary.LittleEndian.Uint32(buf[i:])
	}
	return id
}

// CRC32 hashes the upper-cased name with IEEE CRC-32. Names whose length is
// not a multiple of four are padded with the remainder length followed by
// copies of the first byte of the last partial word.
type CRC32 struct{}

func (CRC32) Name() string { return NameCRC32 }

func (CRC32) Hash(name string) uint32 {
	buf := upperASCII(name)
	l := len(buf)
	a := l >> 2
	if l&3 != 0 {
		buf = append(buf, byte(l-(a<<2)))
		for i := 3 - (l & 3); i > 0; i-- {
			buf = append(buf, buf[a<<2])
		}
	}
	return crc32.ChecksumIEEE(buf)
}

func upperASCII(s string) []byte {
	buf := make([]byte, len(s), len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		buf[i] = c
	}
	return buf
}

// Registry is an ordered set of hash methods addressed by name.
// A Registry is immutable once constructed.
type Registry struct {
	methods []Method
	byName  map[string]Method
}

// NewRegistry builds a registry from methods, keeping their order.
// Method names are matched case-insensitively and must be unique.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{
		methods: make([]Method, 0, len(methods)),
		byName:  make(map[string]Method, len(methods)),
	}
	for _, m := range methods {
		key := strings.ToLower(m.Name())
		if _, ok := r.byName[key]; ok {
			return nil, fmt.Errorf("duplicate hash method %q", m.Name())
		}
		r.byName[key] = m
		r.methods = append(r.methods, m)
	}
	return r, nil
}

// DefaultRegistry returns a registry holding the Classic and CRC32 methods.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(Classic{}, CRC32{})
	return r
}

// Get returns the method registered under name.
func (r *Registry) Get(name string) (Method, error) {
	m, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHashMethod, name)
	}
	return m, nil
}

// Methods returns the registered methods in declaration order.
func (r *Registry) Methods() []Method {
	out := make([]Method, len(r.methods))
	copy(out, r.methods)
	return out
}
