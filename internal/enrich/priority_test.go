package enrich

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePriorityFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "priority.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPriority_BareList(t *testing.T) {
	path := writePriorityFile(t, "- wikidata\n- Wikipedia\n- nytimes\n")

	names, err := LoadPriority(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wikidata", "wikipedia", "nytimes"}, names)
}

func TestLoadPriority_DocumentForm(t *testing.T) {
	path := writePriorityFile(t, "priority:\n  - perplexity\n  - claude-haiku\n")

	names, err := LoadPriority(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"perplexity", "claude-haiku"}, names)
}

func TestLoadPriority_DropsBlanksAndDuplicates(t *testing.T) {
	path := writePriorityFile(t, "- wikidata\n- ''\n- wikidata\n- websearch\n")

	names, err := LoadPriority(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wikidata", "websearch"}, names)
}

func TestLoadPriority_Empty(t *testing.T) {
	path := writePriorityFile(t, "[]\n")

	_, err := LoadPriority(path)
	assert.ErrorContains(t, err, "no sources")
}

func TestLoadPriority_BadYAML(t *testing.T) {
	path := writePriorityFile(t, "{nope: [")

	_, err := LoadPriority(path)
	assert.Error(t, err)
}

func TestLoadPriority_MissingFile(t *testing.T) {
	_, err := LoadPriority(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
