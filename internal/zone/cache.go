package zone

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/scucgrid/scuc/internal/linalg"
)

// Cache stores per-outage link matrices on disk under
// cache/<instance>/<zone>/<line>.bin, per spec.md §4.3/§5. Only the worker
// at WriterRank writes; every rank reads. Writes use renameio for
// atomic-rename semantics so a reader never observes a partially-written
// file, matching the "atomic read/write" requirement.
type Cache struct {
	baseDir    string
	instance   string
	zone       int
	rank       int
	writerRank int
}

// NewCache returns a Cache rooted at baseDir for the given instance/zone,
// active only for the worker identified by rank (writerRank is normally 1,
// per spec.md's "only worker rank 1 writes the cache").
func NewCache(baseDir, instance string, zoneID, rank, writerRank int) *Cache {
	return &Cache{baseDir: baseDir, instance: instance, zone: zoneID, rank: rank, writerRank: writerRank}
}

func (c *Cache) path(outageLine int) string {
	return filepath.Join(c.baseDir, c.instance, fmt.Sprintf("%d", c.zone), fmt.Sprintf("%d.bin", outageLine))
}

// Load returns the cached matrix for outageLine, or (nil, false) on any
// read failure. Per spec.md §7, cache I/O errors are treated as a miss,
// never surfaced as an error, so the caller always falls back to recompute.
func (c *Cache) Load(outageLine int) (*linalg.Dense, bool) {
	f, err := os.Open(c.path(outageLine))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var rows, cols uint32
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, false
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, false
	}
	m, err := linalg.NewDense(int(rows), int(cols))
	if err != nil {
		return nil, false
	}
	buf := make([]byte, 8)
	for i := 0; i < int(rows); i++ {
		for j := 0; j < int(cols); j++ {
			if _, err := r.Read(buf); err != nil {
				return nil, false
			}
			bits := binary.LittleEndian.Uint64(buf)
			m.Set(i, j, math.Float64frombits(bits))
		}
	}
	return m, true
}

// Store persists m for outageLine if and only if this Cache's rank is the
// designated writer rank; otherwise it is a silent no-op, matching "only
// worker rank 1 writes". Write failures are swallowed (treated the same as
// a miss by future Load calls) per spec.md §7's cache-error taxonomy.
func (c *Cache) Store(outageLine int, m *linalg.Dense) {
	if c.rank != c.writerRank {
		return
	}
	dir := filepath.Join(c.baseDir, c.instance, fmt.Sprintf("%d", c.zone))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	buf := make([]byte, 8+8*m.Rows()*m.Cols())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Rows()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Cols()))
	off := 8
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(m.At(i, j)))
			off += 8
		}
	}

	_ = renameio.WriteFile(c.path(outageLine), buf, 0o644)
}

// Enabled reports whether caching should be used for a zone with the given
// external-line count, per spec.md §4.3's "Caching is only enabled for
// zones with > 100 external lines."
func Enabled(externalLineCount int) bool {
	return externalLineCount > 100
}
