package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// headLen is how many leading bytes of a file are kept to notice rewrites.
const headLen = 64

type offset struct {
	off int64
	// head is the first min(off, headLen) bytes as of the last read. A file
	// whose head no longer matches was rewritten and is read from zero.
	head []byte
}

// OffsetTable maps a file path to the number of bytes already delivered.
//
// An offset never exceeds the file's current size: when a file shrinks or its
// leading bytes change, the next read starts over from zero. The table also
// remembers the identity (device and inode) of every path it has seen so a
// rename can be matched to the file that appears under the new name.
// It is owned by one goroutine and is not safe for concurrent use.
type OffsetTable struct {
	m   map[string]*offset
	ids map[string]os.FileInfo
}

func NewOffsetTable() *OffsetTable {
	return &OffsetTable{m: make(map[string]*offset), ids: make(map[string]os.FileInfo)}
}

func (t *OffsetTable) Len() int { return len(t.m) }

func (t *OffsetTable) Get(path string) (int64, bool) {
	e, ok := t.m[path]
	if !ok {
		return 0, false
	}
	return e.off, true
}

// Set marks the first off bytes of path as delivered.
func (t *OffsetTable) Set(path string, off int64) {
	if off < 0 {
		off = 0
	}
	t.m[path] = &offset{off: off, head: readHead(path, off)}
}

// Observe lowers the offset to zero when size shows the file was truncated
// below what was already delivered.
func (t *OffsetTable) Observe(path string, size int64) {
	if e, ok := t.m[path]; ok && size < e.off {
		e.off, e.head = 0, nil
	}
}

// Remember records the identity of path.
func (t *OffsetTable) Remember(path string, info os.FileInfo) {
	if info != nil {
		t.ids[path] = info
	}
}

// Identity returns what Remember or Scan last recorded for path, or nil.
func (t *OffsetTable) Identity(path string) os.FileInfo {
	return t.ids[path]
}

// Scan records the current size of every regular file under root and the
// identity of every file and directory.
func (t *OffsetTable) Scan(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files may vanish between readdir and stat.
			if errors.Is(err, fs.ErrNotExist) && p != root {
				return nil
			}
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		t.ids[p] = info
		if d.Type().IsRegular() {
			t.Set(p, info.Size())
		}
		return nil
	})
}

// Forget drops path and everything beneath it.
func (t *OffsetTable) Forget(path string) {
	prefix := path + string(filepath.Separator)
	for p := range t.m {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(t.m, p)
		}
	}
	for p := range t.ids {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(t.ids, p)
		}
	}
}

// ReadDelta returns the bytes appended to path since the last call and advances
// the offset to the file's current size. Invalid UTF-8 is replaced.
func (t *OffsetTable) ReadDelta(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	var off int64
	if e, ok := t.m[path]; ok {
		off = e.off
		if size < off || !headMatches(f, e.head) {
			off = 0
		}
	}
	if size == off {
		t.m[path] = &offset{off: size, head: readHeadFrom(f, size)}
		return "", nil
	}

	buf := make([]byte, size-off)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	end := off + int64(n)
	t.m[path] = &offset{off: end, head: readHeadFrom(f, end)}
	return strings.ToValidUTF8(string(buf[:n]), "�"), nil
}

func headMatches(f *os.File, head []byte) bool {
	if len(head) == 0 {
		return true
	}
	buf := make([]byte, len(head))
	n, _ := f.ReadAt(buf, 0)
	return n == len(head) && bytes.Equal(buf, head)
}

func readHead(path string, off int64) []byte {
	if off <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return readHeadFrom(f, off)
}

func readHeadFrom(f *os.File, off int64) []byte {
	n := min(off, headLen)
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	got, _ := f.ReadAt(buf, 0)
	return buf[:got]
}
