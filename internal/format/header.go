package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/libyal/go-pff/internal/utils"
)

// Magic is the 4-byte container signature "!BDN".
var Magic = [4]byte{0x21, 0x42, 0x44, 0x4E}

// EncryptionMode identifies the container-wide decryption scheme, selected
// once at open from the header's encryption-mode byte.
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = iota
	EncryptionCompressible
	EncryptionHigh
)

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionNone:
		return "none"
	case EncryptionCompressible:
		return "compressible"
	case EncryptionHigh:
		return "high"
	default:
		return fmt.Sprintf("EncryptionMode(%d)", uint8(m))
	}
}

// Header is the fixed-size prefix of every container: magic, variant,
// encryption mode, container size, and both index roots with their
// back-pointers.
type Header struct {
	Variant         Variant
	Encryption      EncryptionMode
	ContainerSize   uint64
	DescriptorsRoot RootPointer
	OffsetsRoot     RootPointer
}

// RootPointer is a B-tree root's file offset plus the back-pointer it is
// expected to present when read.
type RootPointer struct {
	Offset      uint64
	BackPointer uint64
}

const headerReadSize = 64

// ReadHeader parses the container's file header. It returns NotPff if the
// magic does not match, UnsupportedVariant if the variant byte is unknown.
func ReadHeader(r utils.ReaderAt) (*Header, error) {
	buf := utils.GetBuffer(headerReadSize)
	defer utils.ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, utils.WrapCode("reading file header", err, utils.CodeIO)
	}

	if !bytes.Equal(buf[0:4], Magic[:]) {
		return nil, utils.WrapCode("reading file header", fmt.Errorf("not a PFF container"), utils.CodeNotPff)
	}

	variant, ok := ParseVariantByte(buf[4])
	if !ok {
		return nil, utils.WrapCode("reading file header",
			fmt.Errorf("unrecognized variant byte 0x%02x", buf[4]), utils.CodeUnsupportedVariant)
	}

	h := &Header{
		Variant:    variant,
		Encryption: EncryptionMode(buf[5]),
	}

	switch variant {
	case Variant32Bit:
		h.ContainerSize = uint64(binary.LittleEndian.Uint32(buf[6:10]))
		h.DescriptorsRoot = RootPointer{
			Offset:      uint64(binary.LittleEndian.Uint32(buf[10:14])),
			BackPointer: uint64(binary.LittleEndian.Uint32(buf[14:18])),
		}
		h.OffsetsRoot = RootPointer{
			Offset:      uint64(binary.LittleEndian.Uint32(buf[18:22])),
			BackPointer: uint64(binary.LittleEndian.Uint32(buf[22:26])),
		}
	default: // Variant64Bit, Variant64Bit4k
		h.ContainerSize = binary.LittleEndian.Uint64(buf[8:16])
		h.DescriptorsRoot = RootPointer{
			Offset:      binary.LittleEndian.Uint64(buf[16:24]),
			BackPointer: binary.LittleEndian.Uint64(buf[24:32]),
		}
		h.OffsetsRoot = RootPointer{
			Offset:      binary.LittleEndian.Uint64(buf[32:40]),
			BackPointer: binary.LittleEndian.Uint64(buf[40:48]),
		}
	}

	return h, nil
}
