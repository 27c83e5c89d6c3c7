package local

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// Recorder is a crawler.Fetcher that snapshots every page body it gets
// back from the wrapped fetcher. Snapshot failures are logged, never
// returned: the fetch result is passed through untouched.
type Recorder struct {
	next   crawler.Fetcher
	store  *BlobStore
	logger *zap.Logger
	seq    atomic.Int64
}

// NewRecorder wraps next. A nil logger discards snapshot errors.
func NewRecorder(next crawler.Fetcher, store *BlobStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{next: next, store: store, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (r *Recorder) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	res, err := r.next.Fetch(ctx, req)
	if len(res.Body) == 0 {
		return res, err
	}
	target := res.URL
	if target == "" {
		target = req.URL
	}
	name := SnapshotName(r.seq.Add(1), target)
	uri, putErr := r.store.PutObject(ctx, name, res.ContentType, bytes.NewReader(res.Body))
	if putErr != nil {
		r.logger.Warn("page snapshot failed", zap.String("url", target), zap.Error(putErr))
		return res, err
	}
	r.logger.Debug("page snapshot saved", zap.String("url", target), zap.String("uri", uri))
	return res, err
}

// SnapshotName builds "<host>/<seq>-<path>.html" with the path flattened
// to a single safe file name component.
func SnapshotName(seq int64, rawURL string) string {
	host, slug := "unknown", "index"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = sanitize(u.Host)
		if p := strings.Trim(u.EscapedPath(), "/"); p != "" {
			slug = sanitize(p)
		}
	}
	return fmt.Sprintf("%s/%03d-%s.html", host, seq, slug)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "_"
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
