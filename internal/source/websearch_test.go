package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

const litePage = `<html><body><table>
<tr><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.nytimes.com%2Fobit&rut=abc" class='result-link'>Fred Astaire, Movie Legend, Dies at 88</a></td></tr>
<tr><td class='result-snippet'>Fred Astaire died of pneumonia in Los Angeles on Monday.</td></tr>
<tr><td><a rel="nofollow" href="https://example.com/dance" class='result-link'>Dance history</a></td></tr>
<tr><td class='result-snippet'>A history of dance in the movies.</td></tr>
</table></body></html>`

func TestWebSearch_Lookup(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostFormValue("q")
		w.Write([]byte(litePage))
	}))
	defer srv.Close()

	s := NewWebSearch(srv.URL, 5*time.Second, nil)
	result, err := s.Lookup(context.Background(), astaire)
	require.NoError(t, err)

	assert.Equal(t, "/lite/", gotPath)
	assert.Equal(t, `"Fred Astaire" actor death 1987 cause`, gotQuery)

	require.True(t, result.Found)
	assert.Equal(t, "pneumonia", result.Details.Circumstances)
	assert.Equal(t, "https://www.nytimes.com/obit", result.Source.URL, "redirect wrapper should be unwrapped")
	assert.Equal(t, 0.40, result.Source.Confidence)
	assert.Equal(t, model.TierWebText, result.Source.Tier)
	assert.Contains(t, result.Excerpt, "died of pneumonia")
	assert.NotContains(t, result.Excerpt, "history of dance", "results that never mention the person are dropped")
}

func TestWebSearch_NoResultsIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>No results.</body></html>"))
	}))
	defer srv.Close()

	result, err := NewWebSearch(srv.URL, 5*time.Second, nil).Lookup(context.Background(), astaire)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestWebSearch_ThrottleClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewWebSearch(srv.URL, 5*time.Second, nil).Lookup(context.Background(), astaire)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "websearch", rateErr.Source)
}

func TestParseSearchResults_FallbackScan(t *testing.T) {
	page := `<html><body>
<a href="/settings">Settings</a>
<a href="https://duckduckgo.com/about">About</a>
<a href="https://www.latimes.com/astaire-obit">Fred Astaire dead at 88</a>
<a href="https://www.latimes.com/astaire-obit">Fred Astaire dead at 88</a>
</body></html>`

	hits := parseSearchResults(page)
	require.Len(t, hits, 1, "internal links and duplicates are dropped")
	assert.Equal(t, "https://www.latimes.com/astaire-obit", hits[0].URL)
}

func TestUnwrapRedirect(t *testing.T) {
	assert.Equal(t,
		"https://www.nytimes.com/obit",
		unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.nytimes.com%2Fobit&rut=abc"))
	assert.Equal(t,
		"https://example.com/page",
		unwrapRedirect("https://example.com/page"))
	assert.Equal(t,
		"https://duckduckgo.com/l/?other=1",
		unwrapRedirect("https://duckduckgo.com/l/?other=1"))
}

func TestWebSearch_Metadata(t *testing.T) {
	s := NewWebSearch("", 5*time.Second, nil)
	assert.Equal(t, "websearch", s.Name())
	assert.True(t, s.Free())
	assert.Zero(t, s.EstimatedCostPerQuery())
	assert.Equal(t, model.TierWebText, s.Tier())
	assert.True(t, s.Available())
}
