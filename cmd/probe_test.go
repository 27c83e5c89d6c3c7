package cmd

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/config"
	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

type testApp struct {
	cfg config.Config
}

func (a testApp) Config() config.Config { return a.cfg }
func (a testApp) Logger() *zap.Logger   { return zap.NewNop() }
func (a testApp) Close()                {}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Synth.PatternsEnabled = false
	cfg.Metrics.Enabled = false
	return testApp{cfg: cfg}
}

func TestProbeTracesSite(t *testing.T) {
	t.Parallel()

	site := newSiteServer(t, `<html><body><footer>sales [at] acme [dot] com</footer></body></html>`)

	var out bytes.Buffer
	outcome, err := probe(context.Background(), newTestApp(t), probeOptions{url: site.URL, verbose: true}, &out)
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeFound, outcome.Kind)
	require.Equal(t, "sales@acme.com", outcome.Email)

	trace := out.String()
	require.Contains(t, trace, "Probing "+site.URL)
	require.Contains(t, trace, "fetching-home")
	require.Contains(t, trace, "fetched "+site.URL)
	require.Contains(t, trace, "sales@acme.com")
}

func TestProbeReportsNotFound(t *testing.T) {
	t.Parallel()

	site := newSiteServer(t, `<html><body>Under construction</body></html>`)

	var out bytes.Buffer
	outcome, err := probe(context.Background(), newTestApp(t), probeOptions{url: site.URL}, &out)
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeNotFound, outcome.Kind)
	require.Contains(t, out.String(), "no address found")
	require.NotContains(t, out.String(), "fetched ", "fetch lines need --verbose")
}

func TestProbeSavesPages(t *testing.T) {
	t.Parallel()

	site := newSiteServer(t, `<html><body><a href="/contact">Contact</a></body></html>`)
	dir := filepath.Join(t.TempDir(), "pages")

	var out bytes.Buffer
	_, err := probe(context.Background(), newTestApp(t), probeOptions{url: site.URL, saveDir: dir}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "pages saved under "+dir)

	u, err := url.Parse(site.URL)
	require.NoError(t, err)
	host := strings.ReplaceAll(u.Host, ":", "_")
	home, err := os.ReadFile(filepath.Join(dir, host, "001-index.html"))
	require.NoError(t, err)
	require.Contains(t, string(home), `href="/contact"`)
	_, err = os.Stat(filepath.Join(dir, host, "002-contact.html"))
	require.NoError(t, err, "the 404 contact page body is kept too")
}

func TestProbeRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := probe(context.Background(), newTestApp(t), probeOptions{url: "ftp://files.example"}, &bytes.Buffer{})
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestRootRequiresSubcommandArgs(t *testing.T) {
	_, err := executeRoot(t, "probe")
	require.Error(t, err)
}
