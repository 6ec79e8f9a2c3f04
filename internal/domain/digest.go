package domain

import "hash/crc32"

// ChunkDigest is a CRC-32 (IEEE) over each chunk's text and source, in order.
// It ties a persisted index blob to the chunk set it was built from.
func ChunkDigest(chunks []Chunk) uint32 {
	h := crc32.NewIEEE()
	sep := []byte{0}
	for _, c := range chunks {
		h.Write([]byte(c.Text))
		h.Write(sep)
		h.Write([]byte(c.Metadata.String(MetaSource)))
		h.Write(sep)
	}
	return h.Sum32()
}
