// Package pff implements a reader for Microsoft Personal Folder File
// (PFF/PST/OST) containers — the on-disk format Outlook uses to store
// mail, folders, attachments, and their metadata.
//
// The package covers the store engine only: the two index B-trees
// (descriptors and offsets), the local-descriptor sub-tree resolver, the
// data-block codec (framing, checksum, decryption, array segmentation),
// and the recovery scanner that salvages unlinked-but-valid records.
// Higher-level concepts — folders, messages, MAPI property tables — are
// clients of this engine, not part of it.
//
// A typical session:
//
//	eng, err := pff.OpenByPath("archive.pst")
//	if err != nil { ... }
//	defer eng.Close()
//
//	root, found, err := eng.Descriptor(0x21)
//	stream, err := eng.Stream(root.DataIdentifier)
//	buf := make([]byte, stream.Length())
//	stream.ReadAt(buf, 0)
package pff
