package replay

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// FileSpec names one session file and its trading date (YYYY-MM-DD).
type FileSpec struct {
	Path string `yaml:"path"`
	Date string `yaml:"date"`
}

// Nasdaq sample files are named like S010213-v41.txt (MMDDYY).
var sessionName = regexp.MustCompile(`S(\d{2})(\d{2})(\d{2})`)

// DateFromName extracts the session date from a Nasdaq-style file name.
func DateFromName(path string) (string, bool) {
	m := sessionName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return "20" + m[3] + "-" + m[1] + "-" + m[2], true
}

// ParseFileSpec accepts "path@YYYY-MM-DD" or a bare path whose name carries the date.
func ParseFileSpec(s string) (FileSpec, error) {
	if i := strings.LastIndexByte(s, '@'); i > 0 {
		return FileSpec{Path: s[:i], Date: s[i+1:]}, nil
	}
	date, ok := DateFromName(s)
	if !ok {
		return FileSpec{}, fmt.Errorf("no session date for %q: use path@YYYY-MM-DD", s)
	}
	return FileSpec{Path: s, Date: date}, nil
}

type source struct {
	io.Reader
	closers []func() error
}

func (s *source) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenSource opens a raw feed file, decompressing .gz and .zst transparently.
func OpenSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src := &source{closers: []func() error{f.Close}}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<20))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		src.Reader = zr
		src.closers = append(src.closers, zr.Close)
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd %s: %w", path, err)
		}
		src.Reader = zr
		src.closers = append(src.closers, func() error { zr.Close(); return nil })
	default:
		src.Reader = f
	}
	return src, nil
}
