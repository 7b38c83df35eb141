package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

var barrymore = model.Actor{PersonID: 2, Name: "John Barrymore", DeathYear: 1942}

func chroniclingFixture() chroniclingResponse {
	return chroniclingResponse{
		TotalItems: 2,
		Items: []chroniclingItem{
			{
				ID:     "/lccn/sn83045462/1942-05-30/ed-1/seq-1/",
				Title:  "Evening star",
				Date:   "19420530",
				OCREng: "HOLLYWOOD May 29 John Barrymore noted actor of stage and screen died of pneumonia in Hollywood, California. He had been ill for weeks.",
			},
			{
				ID:     "/lccn/sn83030214/1942-05-30/ed-1/seq-3/",
				Title:  "New-York tribune",
				Date:   "19420530",
				OCREng: "John Barrymore the famous Barrymore brother died from a chronic ailment, doctors said.",
			},
		},
	}
}

func TestChronicling_Lookup(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		require.NoError(t, json.NewEncoder(w).Encode(chroniclingFixture()))
	}))
	defer srv.Close()

	s := NewChronicling(srv.URL, 5*time.Second)
	result, err := s.Lookup(context.Background(), barrymore)
	require.NoError(t, err)

	assert.Equal(t, "John Barrymore", gotQuery["phrasetext"])
	assert.Equal(t, "died", gotQuery["andtext"])
	assert.Equal(t, "1942", gotQuery["date1"])
	assert.Equal(t, "1943", gotQuery["date2"])
	assert.Equal(t, "yearRange", gotQuery["dateFilterType"])
	assert.Equal(t, "json", gotQuery["format"])

	require.True(t, result.Found)
	assert.Equal(t, "pneumonia", result.Details.Circumstances)
	assert.Equal(t, 0.55, result.Source.Confidence)
	assert.Equal(t, srv.URL+"/lccn/sn83045462/1942-05-30/ed-1/seq-1/", result.Source.URL)
	assert.Contains(t, result.Excerpt, "Evening star (1942-05-30):")

	require.Len(t, result.Additional, 1, "second matching page becomes an additional result")
	assert.Equal(t, "a chronic ailment", result.Additional[0].Details.Circumstances)
}

func TestChronicling_SkipsModernDeaths(t *testing.T) {
	// Unreachable base proves no request is made.
	s := NewChronicling("http://127.0.0.1:1", time.Second)

	result, err := s.Lookup(context.Background(), astaire) // died 1987
	require.NoError(t, err)
	assert.False(t, result.Found)

	result, err = s.Lookup(context.Background(), model.Actor{PersonID: 3, Name: "No Year"})
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestChronicling_NoMentionIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chroniclingResponse{
			TotalItems: 1,
			Items: []chroniclingItem{
				{Title: "Evening star", Date: "19420530", OCREng: "Grain prices rose again yesterday."},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	result, err := NewChronicling(srv.URL, 5*time.Second).Lookup(context.Background(), barrymore)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestOCRSnippet(t *testing.T) {
	text := "one two three Barrymore five six seven"
	assert.Equal(t, "three Barrymore five", ocrSnippet(text, "Barrymore", 1))
	assert.Equal(t, text, ocrSnippet(text, "barrymore", 10), "matching is case-insensitive")
	assert.Equal(t, "", ocrSnippet(text, "Garbo", 5))
	assert.Equal(t, "", ocrSnippet(text, "", 5))
}

func TestChroniclingDate(t *testing.T) {
	assert.Equal(t, "1942-05-30", chroniclingDate("19420530"))
	assert.Equal(t, "1942", chroniclingDate("1942"))
}
