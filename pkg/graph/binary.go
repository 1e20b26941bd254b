package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"unsafe"
)

const (
	magicBytes = "SLTMNET1"
	version    = uint32(1)
	maxNodes   = 20_000_000
	maxEdges   = 60_000_000
)

// ErrCorrupt is returned when a network file fails validation.
var ErrCorrupt = errors.New("corrupt network file")

type fileHeader struct {
	Magic    [8]byte
	Version  uint32
	NumNodes uint32
	NumEdges uint32
}

// WriteBinary serializes g to path. The file is written to a temporary name
// and renamed into place once the CRC32 trailer is on disk.
func WriteBinary(path string, g *Graph) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	w := &crc32Writer{w: f, hash: crc32.NewIEEE()}

	hdr := fileHeader{Version: version, NumNodes: g.NumNodes, NumEdges: g.NumEdges}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	sections := []struct {
		name  string
		write func() error
	}{
		{"NodeLat", func() error { return writeSlice(w, g.NodeLat) }},
		{"NodeLon", func() error { return writeSlice(w, g.NodeLon) }},
		{"FirstOut", func() error { return writeSlice(w, g.FirstOut) }},
		{"Head", func() error { return writeSlice(w, g.Head) }},
		{"Length", func() error { return writeSlice(w, g.Length) }},
		{"Link", func() error { return writeSlice(w, g.Link) }},
		{"Capacity", func() error { return writeSlice(w, g.Capacity) }},
		{"Speed", func() error { return writeSlice(w, g.Speed) }},
		{"Lanes", func() error { return writeSlice(w, g.Lanes) }},
	}
	for _, s := range sections {
		if err := s.write(); err != nil {
			return fmt.Errorf("write %s: %w", s.name, err)
		}
	}

	if err := binary.Write(f, binary.LittleEndian, w.hash.Sum32()); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadBinary deserializes a Graph written by WriteBinary.
func ReadBinary(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r := &crc32Reader{r: f, hash: crc32.NewIEEE()}

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	switch {
	case string(hdr.Magic[:]) != magicBytes:
		return nil, fmt.Errorf("%w: invalid magic bytes %q", ErrCorrupt, hdr.Magic)
	case hdr.Version != version:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr.Version)
	case hdr.NumNodes > maxNodes:
		return nil, fmt.Errorf("%w: NumNodes %d exceeds limit %d", ErrCorrupt, hdr.NumNodes, maxNodes)
	case hdr.NumEdges > maxEdges:
		return nil, fmt.Errorf("%w: NumEdges %d exceeds limit %d", ErrCorrupt, hdr.NumEdges, maxEdges)
	}

	n, m := int(hdr.NumNodes), int(hdr.NumEdges)
	g := &Graph{NumNodes: hdr.NumNodes, NumEdges: hdr.NumEdges}
	firstOutLen := n + 1
	if n == 0 {
		firstOutLen = 0
	}

	sections := []struct {
		name string
		read func() error
	}{
		{"NodeLat", func() (err error) { g.NodeLat, err = readSlice[float64](r, n); return }},
		{"NodeLon", func() (err error) { g.NodeLon, err = readSlice[float64](r, n); return }},
		{"FirstOut", func() (err error) { g.FirstOut, err = readSlice[uint32](r, firstOutLen); return }},
		{"Head", func() (err error) { g.Head, err = readSlice[uint32](r, m); return }},
		{"Length", func() (err error) { g.Length, err = readSlice[uint32](r, m); return }},
		{"Link", func() (err error) { g.Link, err = readSlice[uint32](r, m); return }},
		{"Capacity", func() (err error) { g.Capacity, err = readSlice[float64](r, m); return }},
		{"Speed", func() (err error) { g.Speed, err = readSlice[float64](r, m); return }},
		{"Lanes", func() (err error) { g.Lanes, err = readSlice[uint8](r, m); return }},
	}
	for _, s := range sections {
		if err := s.read(); err != nil {
			return nil, fmt.Errorf("read %s: %w", s.name, err)
		}
	}

	expectedCRC := r.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if storedCRC != expectedCRC {
		return nil, fmt.Errorf("%w: CRC32 mismatch stored=%08x computed=%08x", ErrCorrupt, storedCRC, expectedCRC)
	}

	if n > 0 {
		if err := validateCSR(g.FirstOut, g.Head, g.NumNodes); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	return g, nil
}

// validateCSR checks CSR invariants.
func validateCSR(firstOut, head []uint32, numNodes uint32) error {
	if uint32(len(firstOut)) != numNodes+1 {
		return fmt.Errorf("FirstOut length %d != NumNodes+1 %d", len(firstOut), numNodes+1)
	}
	if numEdges := firstOut[numNodes]; uint32(len(head)) != numEdges {
		return fmt.Errorf("Head length %d != FirstOut[NumNodes] %d", len(head), numEdges)
	}
	for i := uint32(1); i <= numNodes; i++ {
		if firstOut[i] < firstOut[i-1] {
			return fmt.Errorf("FirstOut not monotonic at %d: %d < %d", i, firstOut[i], firstOut[i-1])
		}
	}
	for i, h := range head {
		if h >= numNodes {
			return fmt.Errorf("Head[%d]=%d >= NumNodes=%d", i, h, numNodes)
		}
	}
	return nil
}

// Zero-copy I/O over fixed-size element slices.

type fixedSize interface {
	~uint8 | ~uint32 | ~float64
}

func writeSlice[T fixedSize](w io.Writer, s []T) error {
	if len(s) == 0 {
		return nil
	}
	var zero T
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
	_, err := w.Write(b)
	return err
}

func readSlice[T fixedSize](r io.Reader, n int) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]T, n)
	var zero T
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*int(unsafe.Sizeof(zero)))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

type crc32Writer struct {
	w    io.Writer
	hash hash.Hash32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash hash.Hash32
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
