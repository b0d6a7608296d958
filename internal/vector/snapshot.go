package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/mnemo/internal/models"
)

// Snapshot layout, little-endian:
//
//	magic "MNHX" | version u32 | kind u8 | metric u8 | dim u32 | m u32 | count u32 |
//	entry i32 | maxLevel u32 | generation u64 | count * record | crc32 u32
//
// generation is the document store generation the index was in step with when saved.
//
// record: idLen u32 | id | vector dim*f32 | layers u32 | layers * (n u32 | n * slot u32)
const (
	snapshotMagic   = "MNHX"
	snapshotVersion = uint32(2)

	kindHNSW uint8 = 1
	kindFlat uint8 = 2

	maxSnapshotID = 1 << 16
)

// ErrSnapshotIncompatible is returned when a snapshot was written by a differently configured index.
var ErrSnapshotIncompatible = errors.New("incompatible snapshot")

type snapshotHeader struct {
	kind     uint8
	metric   Metric
	dim      uint32
	m        uint32
	count    uint32
	entry    int32
	maxLevel uint32
	gen      uint64
}

type snapshotRecord struct {
	id      string
	vec     []float32
	friends [][]uint32
}

// writeSnapshot writes atomically via a temp file and rename.
func writeSnapshot(path string, hdr snapshotHeader, records []snapshotRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(tmp)
	w := &snapshotWriter{w: io.MultiWriter(bw, crc)}

	w.bytes([]byte(snapshotMagic))
	w.u32(snapshotVersion)
	w.u8(hdr.kind)
	w.u8(uint8(hdr.metric))
	w.u32(hdr.dim)
	w.u32(hdr.m)
	w.u32(uint32(len(records)))
	w.u32(uint32(hdr.entry))
	w.u32(hdr.maxLevel)
	w.u64(hdr.gen)
	for _, r := range records {
		w.u32(uint32(len(r.id)))
		w.bytes([]byte(r.id))
		w.bytes(float32SliceToBytes(r.vec))
		w.u32(uint32(len(r.friends)))
		for _, list := range r.friends {
			w.u32(uint32(len(list)))
			for _, s := range list {
				w.u32(s)
			}
		}
	}
	if w.err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", w.err)
	}
	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		tmp.Close()
		return fmt.Errorf("write checksum: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// readSnapshot reads and verifies a snapshot written for an index of the given kind, metric and dim.
// A missing file returns an error wrapping fs.ErrNotExist.
func readSnapshot(path string, kind uint8, metric Metric, dim int) (snapshotHeader, []snapshotRecord, error) {
	var hdr snapshotHeader
	f, err := os.Open(path)
	if err != nil {
		return hdr, nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	crc := crc32.NewIEEE()
	r := &snapshotReader{r: io.TeeReader(br, crc)}

	magic := r.bytes(4)
	if r.err != nil || string(magic) != snapshotMagic {
		return hdr, nil, fmt.Errorf("%w: bad magic", models.ErrSnapshotCorrupt)
	}
	if v := r.u32(); r.err == nil && v != snapshotVersion {
		return hdr, nil, fmt.Errorf("%w: file has %d, supported %d", models.ErrSnapshotVersion, v, snapshotVersion)
	}
	hdr.kind = r.u8()
	hdr.metric = Metric(r.u8())
	hdr.dim = r.u32()
	hdr.m = r.u32()
	hdr.count = r.u32()
	hdr.entry = int32(r.u32())
	hdr.maxLevel = r.u32()
	hdr.gen = r.u64()
	if r.err != nil {
		return hdr, nil, fmt.Errorf("%w: header: %v", models.ErrSnapshotCorrupt, r.err)
	}
	if hdr.kind != kind {
		return hdr, nil, fmt.Errorf("%w: snapshot kind %d, index kind %d", ErrSnapshotIncompatible, hdr.kind, kind)
	}
	if hdr.metric != metric {
		return hdr, nil, fmt.Errorf("%w: snapshot metric %s, index metric %s", ErrSnapshotIncompatible, hdr.metric, metric)
	}
	if int(hdr.dim) != dim {
		return hdr, nil, fmt.Errorf("snapshot: %w", dimensionError(dim, int(hdr.dim)))
	}

	records := make([]snapshotRecord, 0, min(hdr.count, 1<<16))
	for i := uint32(0); i < hdr.count; i++ {
		idLen := r.u32()
		if r.err == nil && idLen > maxSnapshotID {
			return hdr, nil, fmt.Errorf("%w: id length %d", models.ErrSnapshotCorrupt, idLen)
		}
		rec := snapshotRecord{id: string(r.bytes(int(idLen)))}
		rec.vec = bytesToFloat32Slice(r.bytes(dim * 4))
		layers := r.u32()
		if r.err == nil && layers > maxLevelCap+1 {
			return hdr, nil, fmt.Errorf("%w: %d layers", models.ErrSnapshotCorrupt, layers)
		}
		for l := uint32(0); l < layers && r.err == nil; l++ {
			n := r.u32()
			if r.err == nil && n > hdr.count {
				return hdr, nil, fmt.Errorf("%w: neighbor count %d", models.ErrSnapshotCorrupt, n)
			}
			list := make([]uint32, 0, min(n, 256))
			for j := uint32(0); j < n; j++ {
				s := r.u32()
				if r.err == nil && s >= hdr.count {
					return hdr, nil, fmt.Errorf("%w: neighbor slot %d out of range", models.ErrSnapshotCorrupt, s)
				}
				list = append(list, s)
			}
			rec.friends = append(rec.friends, list)
		}
		if r.err != nil {
			return hdr, nil, fmt.Errorf("%w: record %d: %v", models.ErrSnapshotCorrupt, i, r.err)
		}
		records = append(records, rec)
	}

	sum := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return hdr, nil, fmt.Errorf("%w: missing checksum", models.ErrSnapshotCorrupt)
	}
	if stored != sum {
		return hdr, nil, fmt.Errorf("%w: checksum mismatch", models.ErrSnapshotCorrupt)
	}
	return hdr, records, nil
}

// Save persists the graph, compacting freed slots, tagged with the store generation gen.
func (h *HNSW) Save(path string, gen uint64) error {
	if path == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	g := h.g

	remap := make(map[uint32]uint32, len(g.slots))
	for s, n := range g.nodes {
		if n != nil {
			remap[uint32(s)] = uint32(len(remap))
		}
	}
	records := make([]snapshotRecord, 0, len(remap))
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		friends := make([][]uint32, len(n.friends))
		for l, list := range n.friends {
			friends[l] = make([]uint32, 0, len(list))
			for _, s := range list {
				friends[l] = append(friends[l], remap[s])
			}
		}
		records = append(records, snapshotRecord{id: n.id, vec: n.vec, friends: friends})
	}
	hdr := snapshotHeader{
		kind:     kindHNSW,
		metric:   h.cfg.Metric,
		dim:      uint32(h.cfg.Dimensions),
		m:        uint32(h.cfg.M),
		entry:    -1,
		maxLevel: uint32(g.maxLevel),
		gen:      gen,
	}
	if g.hasEntry {
		hdr.entry = int32(remap[g.entry])
	}
	return writeSnapshot(path, hdr, records)
}

// Load replaces the graph with the snapshot at path and returns its store generation.
func (h *HNSW) Load(path string) (uint64, error) {
	hdr, records, err := readSnapshot(path, kindHNSW, h.cfg.Metric, h.cfg.Dimensions)
	if err != nil {
		return 0, err
	}
	if int(hdr.m) != h.cfg.M {
		return 0, fmt.Errorf("%w: snapshot m %d, index m %d", ErrSnapshotIncompatible, hdr.m, h.cfg.M)
	}
	g := h.newGraph()
	g.nodes = make([]*node, len(records))
	for i, rec := range records {
		if len(rec.friends) == 0 {
			return 0, fmt.Errorf("%w: node %s has no layers", models.ErrSnapshotCorrupt, rec.id)
		}
		if _, dup := g.slots[rec.id]; dup {
			return 0, fmt.Errorf("%w: duplicate id %s", models.ErrSnapshotCorrupt, rec.id)
		}
		g.nodes[i] = &node{id: rec.id, vec: rec.vec, level: len(rec.friends) - 1, friends: rec.friends}
		g.slots[rec.id] = uint32(i)
	}
	if hdr.entry >= 0 {
		if int(hdr.entry) >= len(records) || g.nodes[hdr.entry].level != int(hdr.maxLevel) {
			return 0, fmt.Errorf("%w: bad entry point", models.ErrSnapshotCorrupt)
		}
		g.entry, g.hasEntry, g.maxLevel = uint32(hdr.entry), true, int(hdr.maxLevel)
	} else if len(records) > 0 {
		return 0, fmt.Errorf("%w: missing entry point", models.ErrSnapshotCorrupt)
	}
	for _, n := range g.nodes {
		for l, list := range n.friends {
			for _, s := range list {
				if g.nodes[s].level < l {
					return 0, fmt.Errorf("%w: %s links below its layer", models.ErrSnapshotCorrupt, n.id)
				}
			}
		}
	}
	g.recountInDegrees()

	h.mu.Lock()
	h.g = g
	h.mu.Unlock()
	return hdr.gen, nil
}

// Save persists the flat index, tagged with the store generation gen.
func (f *FlatIndex) Save(path string, gen uint64) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	records := make([]snapshotRecord, len(f.ids))
	for i, id := range f.ids {
		records[i] = snapshotRecord{id: id, vec: f.vectors[i]}
	}
	hdr := snapshotHeader{kind: kindFlat, metric: f.metric, dim: uint32(f.dimensions), entry: -1, gen: gen}
	return writeSnapshot(path, hdr, records)
}

// Load replaces the contents with the snapshot at path and returns its store generation.
func (f *FlatIndex) Load(path string) (uint64, error) {
	hdr, records, err := readSnapshot(path, kindFlat, f.metric, f.dimensions)
	if err != nil {
		return 0, err
	}
	fresh, _ := NewFlatIndex(f.dimensions, f.metric)
	for _, rec := range records {
		fresh.put(rec.id, rec.vec)
	}
	f.mu.Lock()
	f.ids, f.vectors, f.pos = fresh.ids, fresh.vectors, fresh.pos
	f.mu.Unlock()
	return hdr.gen, nil
}

type snapshotWriter struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (w *snapshotWriter) bytes(b []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(b)
	}
}

func (w *snapshotWriter) u8(v uint8) { w.bytes([]byte{v}) }

func (w *snapshotWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.bytes(w.buf[:4])
}

func (w *snapshotWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:], v)
	w.bytes(w.buf[:])
}

type snapshotReader struct {
	r   io.Reader
	err error
}

func (r *snapshotReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	_, r.err = io.ReadFull(r.r, b)
	return b
}

func (r *snapshotReader) u8() uint8 {
	b := r.bytes(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *snapshotReader) u32() uint32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *snapshotReader) u64() uint64 {
	b := r.bytes(8)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
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
