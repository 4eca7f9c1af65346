// Package archive loads log-collector exports: a JSON document whose
// hits.hits array holds one element per archived log record. Exports may be
// stored plain, gzip- or zstd-compressed.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/types"
)

// DefaultMaxBytes bounds the decoded size of an archive.
const DefaultMaxBytes int64 = 512 << 20

// Archive is a parsed export. Hits keep the order of the document.
type Archive struct {
	Hits []*fastjson.Value
}

// Encoding names a compression applied to an archive.
type Encoding string

const (
	EncodingNone Encoding = ""
	EncodingGzip Encoding = "gzip"
	EncodingZstd Encoding = "zstd"
)

// EncodingForPath derives the encoding from the archive extension.
func EncodingForPath(path string) Encoding {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json.gz"):
		return EncodingGzip
	case strings.HasSuffix(lower, ".json.zst"):
		return EncodingZstd
	default:
		return EncodingNone
	}
}

// ParseEncoding maps a Content-Encoding header value to an Encoding.
func ParseEncoding(contentEncoding string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return EncodingNone, nil
	case "gzip", "x-gzip":
		return EncodingGzip, nil
	case "zstd":
		return EncodingZstd, nil
	default:
		return "", types.NewAppError(types.ErrCodeValidationArchive,
			fmt.Sprintf("unsupported archive encoding %q", contentEncoding), nil)
	}
}

// Open reads the archive at path, decompressing by extension, and parses it.
// maxBytes <= 0 selects DefaultMaxBytes.
func Open(path string, maxBytes int64) (*Archive, error) {
	if err := types.ValidateArchivePath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchivePath,
			fmt.Sprintf("cannot open archive %s", path), err)
	}
	defer f.Close()

	return Read(f, EncodingForPath(path), maxBytes)
}

// Read decodes and parses an archive stream. maxBytes bounds the decoded
// size.
func Read(r io.Reader, enc Encoding, maxBytes int64) (*Archive, error) {
	dr, closeFn, err := decompressor(r, enc)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := ReadLimited(dr, maxBytes)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func decompressor(r io.Reader, enc Encoding) (io.Reader, func(), error) {
	switch enc {
	case EncodingGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeValidationArchive, "archive is not valid gzip", err)
		}
		return gz, func() { gz.Close() }, nil
	case EncodingZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeValidationArchive, "archive is not valid zstd", err)
		}
		return zr, zr.Close, nil
	default:
		return r, func() {}, nil
	}
}

// ReadLimited reads r fully, failing once more than maxBytes are produced.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchive, "failed to read archive", err)
	}
	if n > maxBytes {
		return nil, types.NewAppError(types.ErrCodeValidationArchiveSize,
			fmt.Sprintf("archive exceeds %d bytes", maxBytes), nil)
	}
	return buf.Bytes(), nil
}

// Parse decodes an export document. A document without a hits.hits array is
// rejected as a whole; the shape of individual hits is checked later, per
// record.
func Parse(data []byte) (*Archive, error) {
	doc, err := fastjson.ParseBytes(data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchive, "archive is not valid JSON", err)
	}
	return FromValue(doc)
}

// FromValue extracts hits.hits from an already parsed document.
func FromValue(doc *fastjson.Value) (*Archive, error) {
	if doc == nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchive, "archive is empty", nil)
	}
	hits := doc.Get("hits", "hits")
	if hits == nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchive, "archive has no hits.hits array", nil)
	}
	items, err := hits.Array()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArchive, "hits.hits is not an array", err)
	}
	return &Archive{Hits: items}, nil
}
