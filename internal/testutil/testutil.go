// Package testutil builds synthetic MIX archives for tests.
package testutil

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"math/big"
	"testing"

	"golang.org/x/crypto/blowfish"

	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
)

// File is one payload laid out sequentially in the data region.
type File struct {
	ID   uint32
	Data []byte
}

// Named returns a File whose id is the hash of name.
func Named(m hashing.Method, name string, data []byte) File {
	return File{ID: m.Hash(name), Data: data}
}

// Record is a raw index record; Offset is relative to the data region.
type Record struct {
	ID     uint32
	Offset uint32
	Length uint32
}

// Layout places files back to back and returns their records and the data region.
func Layout(files ...File) ([]Record, []byte) {
	records := make([]Record, 0, len(files))
	data := new(bytes.Buffer)
	for _, f := range files {
		records = append(records, Record{ID: f.ID, Offset: uint32(data.Len()), Length: uint32(len(f.Data))})
		data.Write(f.Data)
	}
	return records, data.Bytes()
}

// Table encodes the 6-byte prologue and the records.
func Table(records []Record, dataSize uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(len(records)))
	binary.Write(buf, binary.LittleEndian, dataSize)
	for _, r := range records {
		binary.Write(buf, binary.LittleEndian, r.ID)
		binary.Write(buf, binary.LittleEndian, r.Offset)
		binary.Write(buf, binary.LittleEndian, r.Length)
	}
	return buf.Bytes()
}

// Legacy builds a legacy-header archive.
func Legacy(files ...File) []byte {
	records, data := Layout(files...)
	return LegacyRecords(records, data)
}

// LegacyRecords builds a legacy-header archive from explicit records.
func LegacyRecords(records []Record, data []byte) []byte {
	out := Table(records, uint32(len(data)))
	return append(out, data...)
}

// NewFormat builds an unencrypted new-format archive. A SHA-1 digest of the
// data region is appended when flags carries mix.FlagChecksum.
func NewFormat(flags uint16, files ...File) []byte {
	records, data := Layout(files...)
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, flags&^mix.FlagEncrypted)
	buf.Write(Table(records, uint32(len(data))))
	buf.Write(data)
	if flags&mix.FlagChecksum != 0 {
		sum := sha1.Sum(data)
		buf.Write(sum[:])
	}
	return buf.Bytes()
}

// Keypair is a small raw-RSA key whose public half drives mix.HeaderCipher.
type Keypair struct {
	Modulus  *big.Int
	Private  *big.Int
	Exponent int64
}

// NewKeypair generates a 320-bit keypair, the width of the real public key.
func NewKeypair(tb testing.TB) *Keypair {
	tb.Helper()

	e := big.NewInt(mix.PublicExponent)
	one := big.NewInt(1)
	for range 32 {
		p, err := rand.Prime(rand.Reader, 160)
		if err != nil {
			tb.Fatalf("generate prime: %v", err)
		}
		q, err := rand.Prime(rand.Reader, 160)
		if err != nil {
			tb.Fatalf("generate prime: %v", err)
		}
		if p.Cmp(q) == 0 {
			continue
		}
		n := new(big.Int).Mul(p, q)
		phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
		d := new(big.Int).ModInverse(e, phi)
		if d == nil || n.BitLen() != 320 {
			continue
		}
		return &Keypair{Modulus: n, Private: d, Exponent: mix.PublicExponent}
	}
	tb.Fatal("could not generate keypair")
	return nil
}

// Cipher returns the header cipher for the public half of k.
func (k *Keypair) Cipher() *mix.HeaderCipher {
	return mix.NewHeaderCipherWithKey(k.Modulus, k.Exponent)
}

// Wrap produces an 80-byte key source that unwraps to key.
func (k *Keypair) Wrap(key []byte) []byte {
	width := (k.Modulus.BitLen() - 1) / 8
	plain := make([]byte, 2*width)
	copy(plain, key)

	out := make([]byte, 0, mix.KeySourceSize)
	for i := 0; i < 2; i++ {
		chunk := plain[i*width : (i+1)*width]
		v := new(big.Int).SetBytes(reverse(chunk))
		v.Exp(v, k.Private, k.Modulus)
		out = append(out, reverse(v.FillBytes(make([]byte, width+1)))...)
	}
	return out
}

// Encrypted builds a new-format archive whose entry table is encrypted
// under a random Blowfish key wrapped with k.
func Encrypted(tb testing.TB, k *Keypair, flags uint16, files ...File) []byte {
	tb.Helper()

	key := make([]byte, mix.BlowfishKeySize)
	if _, err := rand.Read(key); err != nil {
		tb.Fatalf("generate key: %v", err)
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		tb.Fatalf("blowfish: %v", err)
	}

	records, data := Layout(files...)
	table := Table(records, uint32(len(data)))
	if rem := len(table) % mix.CipherBlockSize; rem != 0 {
		table = append(table, make([]byte, mix.CipherBlockSize-rem)...)
	}
	for i := 0; i < len(table); i += mix.CipherBlockSize {
		block.Encrypt(table[i:i+mix.CipherBlockSize], table[i:i+mix.CipherBlockSize])
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, flags|mix.FlagEncrypted)
	buf.Write(k.Wrap(key))
	buf.Write(table)
	buf.Write(data)
	if flags&mix.FlagChecksum != 0 {
		sum := sha1.Sum(data)
		buf.Write(sum[:])
	}
	return buf.Bytes()
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// XCCDatabase builds an XCC local mix database listing names.
func XCCDatabase(game uint32, names ...string) []byte {
	body := new(bytes.Buffer)
	for _, n := range names {
		body.WriteString(n)
		body.WriteByte(0)
	}

	buf := new(bytes.Buffer)
	buf.WriteString("XCC by Olaf van der Spek\x1a\x04\x17\x27\x10\x19\x80\x00")
	binary.Write(buf, binary.LittleEndian, uint32(52+body.Len()))
	binary.Write(buf, binary.LittleEndian, uint32(0)) // type
	binary.Write(buf, binary.LittleEndian, uint32(0)) // version
	binary.Write(buf, binary.LittleEndian, game)
	binary.Write(buf, binary.LittleEndian, uint32(len(names)))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// NameRecord is one record of a RAMIX database.
type NameRecord struct {
	ID          uint32
	Name        string
	Description string
}

// RAMIXDatabase builds a RAMIX names database.
func RAMIXDatabase(records ...NameRecord) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString("RAMIXDB\x00")
	binary.Write(buf, binary.LittleEndian, uint32(len(records)))
	for _, r := range records {
		binary.Write(buf, binary.LittleEndian, r.ID)
		buf.WriteString(r.Name)
		buf.WriteByte(0)
		buf.WriteString(r.Description)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
