package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// IndexStore persists and restores index snapshots.
type IndexStore interface {
	// Load returns the stored snapshot. A missing snapshot yields an error matching os.ErrNotExist;
	// an undecodable one yields an error matching ErrIndexCorrupt.
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
	Path() string
	Exists() bool
}

// Snapshot is the full persisted state of an index.
type Snapshot struct {
	Dim         int
	Fingerprint string
	Entries     []Entry
}

const (
	fileMagic   = "KIDX"
	fileVersion = uint16(1)
	// Upper bound on a decoded entry count before allocating; guards against garbage headers.
	maxEntries = 1 << 28
)

// FileStore stores snapshots in a single binary file. Format (little-endian): magic (4),
// version (2), dimension (4), fingerprint length (2) + bytes, count (8), then per entry:
// id (8) and dimension*4 bytes of float32, followed by a CRC-32 (IEEE) of everything before it.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the backing file exists.
func (s *FileStore) Exists() bool {
	if s.path == "" {
		return false
	}
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes snap to a temp file in the target directory and renames it over the target.
func (s *FileStore) Save(snap *Snapshot) (err error) {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(tmp, crc))
	if err = encodeSnapshot(w, snap); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	if err = binary.Write(tmp, binary.LittleEndian, crc.Sum32()); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap *Snapshot) error {
	if len(snap.Fingerprint) > math.MaxUint16 {
		return fmt.Errorf("fingerprint too long: %d bytes", len(snap.Fingerprint))
	}
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []any{
		fileVersion,
		uint32(snap.Dim),
		uint16(len(snap.Fingerprint)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := io.WriteString(w, snap.Fingerprint); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(snap.Entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	entries := make([]Entry, len(snap.Entries))
	copy(entries, snap.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for _, e := range entries {
		if len(e.Vector) != snap.Dim {
			return &DimensionError{Got: len(e.Vector), Want: snap.Dim}
		}
		if err := binary.Write(w, binary.LittleEndian, e.ID); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads and verifies the snapshot file.
func (s *FileStore) Load() (*Snapshot, error) {
	if s.path == "" {
		return nil, fmt.Errorf("no index path: %w", os.ErrNotExist)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) < len(fileMagic)+4 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrIndexCorrupt, len(data))
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(trailer); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrIndexCorrupt)
	}
	r := bytes.NewReader(body)
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIndexCorrupt)
	}
	var (
		version uint16
		dim     uint32
		fpLen   uint16
		count   uint64
	)
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrIndexCorrupt, err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupt, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: read dimensions: %v", ErrIndexCorrupt, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fpLen); err != nil {
		return nil, fmt.Errorf("%w: read fingerprint length: %v", ErrIndexCorrupt, err)
	}
	fp := make([]byte, fpLen)
	if _, err := io.ReadFull(r, fp); err != nil {
		return nil, fmt.Errorf("%w: read fingerprint: %v", ErrIndexCorrupt, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrIndexCorrupt, err)
	}
	entrySize := 8 + int64(dim)*4
	if count > maxEntries || int64(count)*entrySize != int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d entries do not fit %d remaining bytes", ErrIndexCorrupt, count, r.Len())
	}
	snap := &Snapshot{
		Dim:         int(dim),
		Fingerprint: string(fp),
		Entries:     make([]Entry, 0, count),
	}
	buf := make([]byte, int(dim)*4)
	for i := uint64(0); i < count; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("%w: read id: %v", ErrIndexCorrupt, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read vector: %v", ErrIndexCorrupt, err)
		}
		snap.Entries = append(snap.Entries, Entry{ID: id, Vector: bytesToFloat32Slice(buf)})
	}
	return snap, nil
}

// IsMissing reports whether err from IndexStore.Load means no snapshot exists.
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
