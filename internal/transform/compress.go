package transform

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	kgzip "github.com/klauspost/compress/gzip"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// compressiblePrefixes enumerates the Content-Type prefixes §4.G allows
// compression for; everything else is left untouched.
var compressiblePrefixes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

func isCompressible(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, p := range compressiblePrefixes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

// Encoding names the chosen response content-coding.
type Encoding string

const (
	None   Encoding = ""
	Gzip   Encoding = "gzip"
	Brotli Encoding = "br"
)

// SelectEncoding implements §4.G's precedence: brotli over gzip when both
// are accepted and enabled; skip when already encoded, below min_length,
// or the content type isn't compressible.
func SelectEncoding(cfg config.CompressionCfg, acceptEncoding, contentType, contentEncoding string, bodyLen int) Encoding {
	if !cfg.Enabled {
		return None
	}
	if contentEncoding != "" {
		return None
	}
	if bodyLen < cfg.MinLength {
		return None
	}
	if !isCompressible(contentType) {
		return None
	}
	accepts := func(tok string) bool {
		for _, part := range strings.Split(acceptEncoding, ",") {
			if strings.EqualFold(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]), tok) {
				return true
			}
		}
		return false
	}
	if cfg.Brotli.On && accepts("br") {
		return Brotli
	}
	if cfg.Gzip.On && accepts("gzip") {
		return Gzip
	}
	return None
}

var gzipPools sync.Map // level -> *sync.Pool of *kgzip.Writer
var brotliPools sync.Map

func gzipPool(level int) *sync.Pool {
	if p, ok := gzipPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() any {
		w, _ := kgzip.NewWriterLevel(nil, level)
		return w
	}}
	actual, _ := gzipPools.LoadOrStore(level, p)
	return actual.(*sync.Pool)
}

func brotliPool(level int) *sync.Pool {
	if p, ok := brotliPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() any {
		return brotli.NewWriterLevel(nil, level)
	}}
	actual, _ := brotliPools.LoadOrStore(level, p)
	return actual.(*sync.Pool)
}

// Compress encodes body with the chosen Encoding, using a pooled writer
// per level the way caddyhttp/gzip.initWriterPool and
// caddyhttp/brotli.initWriterPool do.
func Compress(enc Encoding, body []byte, cfg config.CompressionCfg) ([]byte, error) {
	switch enc {
	case Gzip:
		pool := gzipPool(cfg.Gzip.Level)
		w := pool.Get().(*kgzip.Writer)
		defer pool.Put(w)
		var buf bytes.Buffer
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Brotli:
		pool := brotliPool(cfg.Brotli.Level)
		w := pool.Get().(*brotli.Writer)
		defer pool.Put(w)
		var buf bytes.Buffer
		w.Reset(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}
