package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCoversElevenLocales(t *testing.T) {
	t.Parallel()

	lex, err := Default()
	require.NoError(t, err)
	require.NoError(t, lex.Validate())
	require.Equal(t, []string{"ar", "de", "en", "es", "fr", "it", "nl", "pl", "pt", "ru", "tr"}, lex.Locales())
	require.Contains(t, lex.ContactKeywords["fr"], "nous joindre")
	require.Equal(t, []string{"info", "contact", "sales", "hello"}, lex.PatternUniversal.Primary)
	require.Contains(t, lex.PatternLocale["fr"], "bonjour")
	require.Contains(t, lex.FreemailDomains, "gmail.com")
}

func TestLoadOverridesKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback_paths: [/kontakt]\n"), 0o600))

	lex, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/kontakt"}, lex.FallbackPaths)
	require.NotEmpty(t, lex.ContactKeywords, "keys absent from the file keep their defaults")
}

func TestLoadRejectsEmptyContactTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contact_keywords: {}\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "lexicon.contact_keywords")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFold(t *testing.T) {
	t.Parallel()

	require.Equal(t, "contactenos", Fold("Contáctenos"))
	require.Equal(t, "iletisim", Fold("İletişim"))
	require.Equal(t, "hakkimizda", Fold("Hakkımızda"))
	require.Equal(t, "uber-uns", Fold("Über-uns"))
	require.Equal(t, "контакты", Fold("Контакты"))
}

func TestLocaleForTLD(t *testing.T) {
	t.Parallel()

	lex := MustDefault()
	require.Equal(t, "fr", lex.LocaleForTLD("acme.fr"))
	require.Equal(t, "pt", lex.LocaleForTLD("www.acme.com.br"))
	require.Equal(t, "", lex.LocaleForTLD("acme.com"))
	require.Equal(t, "", lex.LocaleForTLD("localhost"))
}
