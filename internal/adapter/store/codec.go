package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"kbrag/internal/domain"
)

const (
	indexMagic         = "KBVI"
	IndexFormatVersion = 1

	maxDimension = 1 << 16
)

var metricCodes = map[string]uint16{
	"l2":            0,
	"inner_product": 1,
	"cosine":        2,
}

// indexHeader is the fixed-size prefix of vectors.idx, little-endian.
type indexHeader struct {
	Magic       [4]byte
	Version     uint16
	Metric      uint16
	Dimension   uint32
	VectorCount uint32
	ChunkCount  uint32
	ChunkDigest uint32
}

// indexBlob is the decoded content of vectors.idx.
type indexBlob struct {
	Metric      string
	Dimension   int
	ChunkCount  int
	ChunkDigest uint32
	Vectors     [][]float32
}

func metricName(code uint16) (string, bool) {
	for name, c := range metricCodes {
		if c == code {
			return name, true
		}
	}
	return "", false
}

// encodeIndex writes header, float32 payload and the payload CRC-32.
func encodeIndex(w io.Writer, blob indexBlob) error {
	code, ok := metricCodes[blob.Metric]
	if !ok {
		return fmt.Errorf("unknown metric %q: %w", blob.Metric, domain.ErrInvalidArgument)
	}
	for i, v := range blob.Vectors {
		if len(v) != blob.Dimension {
			return fmt.Errorf("vector %d: expected %d, got %d: %w", i, blob.Dimension, len(v), domain.ErrDimensionMismatch)
		}
	}

	hdr := indexHeader{
		Version:     IndexFormatVersion,
		Metric:      code,
		Dimension:   uint32(blob.Dimension),
		VectorCount: uint32(len(blob.Vectors)),
		ChunkCount:  uint32(blob.ChunkCount),
		ChunkDigest: blob.ChunkDigest,
	}
	copy(hdr.Magic[:], indexMagic)

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	payload := io.MultiWriter(bw, crc)
	buf := make([]byte, 4)
	for _, v := range blob.Vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
			if _, err := payload.Write(buf); err != nil {
				return err
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	return bw.Flush()
}

// decodeIndex reads a blob written by encodeIndex. Any structural problem
// is reported as domain.ErrCorruptState.
func decodeIndex(r io.Reader) (indexBlob, error) {
	br := bufio.NewReader(r)

	var hdr indexHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return indexBlob{}, fmt.Errorf("read header: %v: %w", err, domain.ErrCorruptState)
	}
	if string(hdr.Magic[:]) != indexMagic {
		return indexBlob{}, fmt.Errorf("bad magic %q: %w", hdr.Magic[:], domain.ErrCorruptState)
	}
	if hdr.Version != IndexFormatVersion {
		return indexBlob{}, fmt.Errorf("unsupported index format v%d: %w", hdr.Version, domain.ErrCorruptState)
	}
	metric, ok := metricName(hdr.Metric)
	if !ok {
		return indexBlob{}, fmt.Errorf("unknown metric code %d: %w", hdr.Metric, domain.ErrCorruptState)
	}
	if (hdr.VectorCount > 0 && hdr.Dimension == 0) || hdr.Dimension > maxDimension {
		return indexBlob{}, fmt.Errorf("invalid dimension %d: %w", hdr.Dimension, domain.ErrCorruptState)
	}

	blob := indexBlob{
		Metric:      metric,
		Dimension:   int(hdr.Dimension),
		ChunkCount:  int(hdr.ChunkCount),
		ChunkDigest: hdr.ChunkDigest,
		Vectors:     make([][]float32, 0, min(int(hdr.VectorCount), 4096)),
	}

	crc := crc32.NewIEEE()
	payload := io.TeeReader(br, crc)
	buf := make([]byte, 4*int(hdr.Dimension))
	for i := uint32(0); i < hdr.VectorCount; i++ {
		if _, err := io.ReadFull(payload, buf); err != nil {
			return indexBlob{}, fmt.Errorf("read vector %d: %v: %w", i, err, domain.ErrCorruptState)
		}
		v := make([]float32, hdr.Dimension)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		blob.Vectors = append(blob.Vectors, v)
	}

	var sum uint32
	if err := binary.Read(br, binary.LittleEndian, &sum); err != nil {
		return indexBlob{}, fmt.Errorf("read checksum: %v: %w", err, domain.ErrCorruptState)
	}
	if sum != crc.Sum32() {
		return indexBlob{}, fmt.Errorf("payload checksum mismatch: %w", domain.ErrCorruptState)
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		return indexBlob{}, fmt.Errorf("trailing bytes after checksum: %w", domain.ErrCorruptState)
	}

	return blob, nil
}
