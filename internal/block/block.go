// Package block implements the data-block codec: frame parsing, footer
// back-pointer and CRC verification, decryption, and (on the 4k-page
// variant) zlib-compatible decompression. Every data identifier the
// offsets index resolves to an extent is read through ReadBlock.
package block

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/checksum"
	"github.com/libyal/go-pff/internal/cryptmode"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// Footer is the parsed trailing metadata of one data block, laid out
// per-variant.
type Footer struct {
	DataSize         uint16
	Signature        uint16
	Checksum         uint32
	BackPointer      uint64
	UncompressedSize uint16 // 4k variant only; zero otherwise.
}

// blockSignature is the well-known two-byte value a data block footer
// carries in its Signature field.
const blockSignature = 0xba5e

// Decoded is the result of a successful ReadBlock: the usable payload plus
// the footer it was validated against.
type Decoded struct {
	Footer Footer
	// Data is the decrypted, and (on the 4k variant, when compressed)
	// decompressed, payload. It excludes the footer.
	Data []byte
}

// ReadBlock reads, frames, verifies, and decrypts one data block.
//
// declaredSize is the offset record's data-size field. The read is rounded
// up to the next block-stride boundary so the trailing footer is always
// captured in full.
func ReadBlock(r utils.ReaderAt, fileOffset int64, declaredSize uint64, layout format.Layout, mode format.EncryptionMode, expectedBackPointer uint64, log *logrus.Logger) (*Decoded, error) {
	total := declaredSize + uint64(layout.BlockFooterSize)
	rounded, err := utils.RoundUpBlockStride(total, uint64(layout.BlockStride))
	if err != nil {
		return nil, utils.WrapCode("rounding block size", err, utils.CodeInvalidArgument)
	}

	buf := make([]byte, rounded)
	n, err := r.ReadAt(buf, fileOffset)
	if err != nil && uint64(n) < total {
		return nil, utils.WrapCode("reading data block", err, utils.CodeIO)
	}
	buf = buf[:n]
	if uint64(len(buf)) < total {
		return nil, utils.WrapCode("reading data block", io.ErrUnexpectedEOF, utils.CodeIO)
	}

	footerOff := declaredSize
	footer, err := parseFooter(buf[footerOff:total], layout)
	if err != nil {
		return nil, utils.WrapCode("parsing block footer", err, utils.CodeBadBlock)
	}

	if footer.BackPointer != expectedBackPointer {
		if log != nil {
			log.WithFields(logrus.Fields{
				"got":      footer.BackPointer,
				"expected": expectedBackPointer,
				"offset":   fileOffset,
			}).Debug("data block back-pointer mismatch")
		}
		return nil, utils.WrapCode("reading data block", errWrongBlock, utils.CodeBadBlock)
	}

	if footer.Signature != blockSignature && log != nil {
		log.WithField("offset", fileOffset).Debug("data block footer signature mismatch; continuing")
	}

	data := buf[:declaredSize]
	if !verifyChecksum(data, footer.Checksum) && log != nil {
		log.WithField("offset", fileOffset).Warn("data block checksum mismatch; continuing")
	}

	decrypted := cryptmode.Decrypt(mode, expectedBackPointer, append([]byte(nil), data...))

	payload := decrypted
	if layout.Variant == format.Variant64Bit4k && footer.UncompressedSize != 0 && uint32(footer.UncompressedSize) != uint32(len(decrypted)) {
		decompressed, derr := decompress(decrypted, uint32(footer.UncompressedSize))
		if derr != nil {
			if log != nil {
				log.WithError(derr).Debug("block decompression failed; using raw bytes")
			}
		} else {
			payload = decompressed
		}
	}

	return &Decoded{Footer: *footer, Data: payload}, nil
}

var errWrongBlock = wrongBlockError{}

type wrongBlockError struct{}

func (wrongBlockError) Error() string { return "data block back-pointer mismatch" }

func parseFooter(raw []byte, layout format.Layout) (*Footer, error) {
	if uint32(len(raw)) < layout.BlockFooterSize {
		return nil, io.ErrUnexpectedEOF
	}

	f := &Footer{
		DataSize:  binary.LittleEndian.Uint16(raw[0:2]),
		Signature: binary.LittleEndian.Uint16(raw[2:4]),
		Checksum:  binary.LittleEndian.Uint32(raw[4:8]),
	}

	switch layout.Variant {
	case format.Variant32Bit:
		f.BackPointer = uint64(binary.LittleEndian.Uint32(raw[8:12]))
	default: // Variant64Bit, Variant64Bit4k
		f.BackPointer = binary.LittleEndian.Uint64(raw[8:16])
	}

	if layout.Variant == format.Variant64Bit4k && len(raw) >= 24 {
		// raw[16:18] is unknown1, read but uninterpreted.
		f.UncompressedSize = binary.LittleEndian.Uint16(raw[18:20])
		// raw[20:24] is unknown2, preserved but uninterpreted.
	}

	return f, nil
}

// verifyChecksum recomputes the weak CRC over data and compares it to want.
func verifyChecksum(data []byte, want uint32) bool {
	return checksum.Verify(data, want)
}

func decompress(data []byte, uncompressedSize uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsDataArrayMarker reports whether data begins with one of the two data
// array signatures (0x01 0x01 or 0x01 0x02) and identifier carries the
// "internal" flag bit (0x02).
func IsDataArrayMarker(data []byte, identifier uint64) bool {
	if len(data) < 2 {
		return false
	}
	if identifier&0x02 == 0 {
		return false
	}
	return (data[0] == 0x01 && data[1] == 0x01) || (data[0] == 0x01 && data[1] == 0x02)
}
