package mix

// Header flag bits stored in the u16 following the new-format zero marker.
const (
	FlagChecksum  uint16 = 0x0001
	FlagEncrypted uint16 = 0x0002
)

const (
	// SubHeaderSize is the count:u16 + dataSize:u32 prologue preceding the entry table.
	SubHeaderSize = 6
	// RecordSize is the size of one id/offset/length record.
	RecordSize = 12
	// MarkerSize covers the new-format zero marker and flags field.
	MarkerSize = 4
	// KeySourceSize is the size of the wrapped Blowfish key of encrypted headers.
	KeySourceSize = 80
	// CipherBlockSize is the Blowfish block size.
	CipherBlockSize = 8
	// ChecksumSize is the SHA-1 digest appended to archives flagged with a checksum.
	ChecksumSize = 20
	// BlowfishKeySize is the number of unwrapped key bytes handed to Blowfish.
	BlowfishKeySize = 56

	// LengthMask drops the reserved top bit of a record's length.
	LengthMask = 0x7FFFFFFF
)

// TableSize returns the size of a flat header holding count records,
// including the 6-byte prologue.
func TableSize(count uint16) int64 {
	return SubHeaderSize + RecordSize*int64(count)
}
