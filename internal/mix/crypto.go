package mix

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/blowfish"
)

// PublicModulus is the 40-byte public modulus shared by every encrypted MIX
// archive, big-endian.
var PublicModulus = [40]byte{
	0x51, 0xBC, 0xDA, 0x08, 0x6D, 0x39, 0xFC, 0xE4, 0x56, 0x51,
	0x60, 0xD6, 0x51, 0x71, 0x3F, 0xA2, 0xE8, 0xAA, 0x54, 0xFA,
	0x66, 0x82, 0xB0, 0x4A, 0xAB, 0xDD, 0x0E, 0x6A, 0xF8, 0xB0,
	0xC1, 0xE6, 0xD1, 0xFB, 0x4F, 0x3D, 0xAA, 0x43, 0x7F, 0x15,
}

// PublicExponent is the exponent paired with PublicModulus.
const PublicExponent = 65537

// HeaderCipher decrypts the entry table of encrypted MIX headers.
//
// Decryption process:
//  1. Read the 80-byte key source that follows the flags field
//  2. Split it into little-endian chunks one byte wider than the modulus'
//     whole-byte width and raise each to the public exponent
//  3. Concatenate the little-endian results; the first 56 bytes are the Blowfish key
//  4. Decrypt the first 8-byte block to learn the file count
//  5. Decrypt exactly as many blocks as cover the 6-byte prologue plus the records
type HeaderCipher struct {
	modulus  *big.Int
	exponent *big.Int
	width    int // output bytes per chunk; input chunks are width+1 bytes
}

// NewHeaderCipher returns a cipher using the embedded public key.
func NewHeaderCipher() *HeaderCipher {
	return NewHeaderCipherWithKey(new(big.Int).SetBytes(PublicModulus[:]), PublicExponent)
}

// NewHeaderCipherWithKey returns a cipher for an arbitrary public key.
func NewHeaderCipherWithKey(modulus *big.Int, exponent int64) *HeaderCipher {
	return &HeaderCipher{
		modulus:  new(big.Int).Set(modulus),
		exponent: big.NewInt(exponent),
		width:    (modulus.BitLen() - 1) / 8,
	}
}

// UnwrapKey recovers the Blowfish key from an 80-byte key source.
func (c *HeaderCipher) UnwrapKey(keySource []byte) ([]byte, error) {
	if len(keySource) < KeySourceSize {
		return nil, fmt.Errorf("%w: key source is %d bytes", ErrTruncatedEncryptedHeader, len(keySource))
	}

	chunk := c.width + 1
	key := make([]byte, 0, KeySourceSize)
	for off := 0; off+chunk <= KeySourceSize; off += chunk {
		v := new(big.Int).SetBytes(reversed(keySource[off : off+chunk]))
		v.Exp(v, c.exponent, c.modulus)
		key = append(key, littleEndianBytes(v, c.width)...)
	}
	if len(key) < BlowfishKeySize {
		return nil, fmt.Errorf("public key too small: unwrapped %d key bytes", len(key))
	}
	return key[:BlowfishKeySize], nil
}

// DecryptHeader decrypts the flat header starting at off, where the key
// source begins. It returns the decrypted header (prologue included, padding
// stripped) and the number of bytes consumed from off.
func (c *HeaderCipher) DecryptHeader(src io.ReaderAt, off, size int64) ([]byte, int64, error) {
	if size-off < KeySourceSize+CipherBlockSize {
		return nil, 0, fmt.Errorf("%w: %d bytes after flags", ErrTruncatedEncryptedHeader, size-off)
	}

	keySource := make([]byte, KeySourceSize)
	if _, err := src.ReadAt(keySource, off); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read key source: %w", ErrTruncatedEncryptedHeader, err)
	}

	key, err := c.UnwrapKey(keySource)
	if err != nil {
		return nil, 0, err
	}

	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create blowfish cipher: %w", err)
	}

	first := make([]byte, CipherBlockSize)
	if _, err := src.ReadAt(first, off+KeySourceSize); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read first block: %w", ErrTruncatedEncryptedHeader, err)
	}
	block.Decrypt(first, first)

	count := binary.LittleEndian.Uint16(first)
	tableSize := TableSize(count)
	blocks := (tableSize + CipherBlockSize - 1) / CipherBlockSize
	consumed := KeySourceSize + blocks*CipherBlockSize
	if off+consumed > size {
		return nil, 0, fmt.Errorf("%w: %d records need %d bytes, %d available",
			ErrTruncatedEncryptedHeader, count, consumed, size-off)
	}

	buf := make([]byte, blocks*CipherBlockSize)
	copy(buf, first)
	if blocks > 1 {
		if _, err := src.ReadAt(buf[CipherBlockSize:], off+KeySourceSize+CipherBlockSize); err != nil {
			return nil, 0, fmt.Errorf("%w: failed to read header blocks: %w", ErrTruncatedEncryptedHeader, err)
		}
		decryptECB(block, buf[CipherBlockSize:])
	}

	return buf[:tableSize], consumed, nil
}

// decryptECB decrypts whole blocks of data in place.
func decryptECB(b cipher.Block, data []byte) {
	bs := b.BlockSize()
	for i := 0; i+bs <= len(data); i += bs {
		b.Decrypt(data[i:i+bs], data[i:i+bs])
	}
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// littleEndianBytes encodes the low n bytes of v little-endian.
func littleEndianBytes(v *big.Int, n int) []byte {
	be := v.FillBytes(make([]byte, max(n, (v.BitLen()+7)/8)))
	return reversed(be[len(be)-n:])
}
