package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/urlresolve"
	"github.com/deadonfilm/enrichment-cli/pkg/anthropic"
)

type fakeAnthropic struct {
	req  *anthropic.MessageRequest
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.req = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func textReply(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

func synthCalc() *cost.Calculator {
	return cost.NewCalculator(cost.Rates{
		Anthropic: map[string]cost.ModelRate{
			"test-model": {Input: 1.00, Output: 2.00},
		},
	})
}

func sampleExcerpts() []model.RawExcerpt {
	return []model.RawExcerpt{
		{
			SourceName:  "wikipedia",
			Text:        "Died of heart failure at home.",
			URL:         "https://en.wikipedia.org/wiki/Test_Person",
			Confidence:  0.7,
			Tier:        model.TierSecondaryCompilation,
			Reliability: 0.80,
		},
		{
			SourceName:  "perplexity",
			Text:        "Reports say heart failure after a long illness.",
			Confidence:  0.8,
			Tier:        model.TierSecondaryCompilation,
			Reliability: 0.70,
		},
	}
}

func TestSynthesizerRun_MergesExcerpts(t *testing.T) {
	client := &fakeAnthropic{resp: textReply(
		`{"circumstances": "heart failure after a long illness", "confidence": 0.85}`,
		1000, 500)}
	s := NewSynthesizer(client, "test-model", synthCalc(), nil)

	details, entry, spent, err := s.Run(context.Background(), testActor(), sampleExcerpts())
	require.NoError(t, err)

	assert.Equal(t, "heart failure after a long illness", details.Circumstances)
	assert.Equal(t, SynthesisCategory, entry.Name)
	assert.InDelta(t, 0.85, entry.Confidence, 1e-9)
	assert.InDelta(t, 0.80, entry.Reliability, 1e-9, "reliability caps at the best input")
	// 1000 in at $1/MTok plus 500 out at $2/MTok.
	assert.InDelta(t, 0.002, spent, 1e-9)
	assert.InDelta(t, spent, entry.CostUSD, 1e-9)

	require.NotNil(t, client.req)
	prompt := client.req.Messages[0].Content
	assert.Contains(t, prompt, "Test Person")
	assert.Contains(t, prompt, "Account 1 from wikipedia")
	assert.Contains(t, prompt, "Account 2 from perplexity")
	assert.Contains(t, prompt, "reliability 0.80")
	assert.Contains(t, prompt, `"circumstances"`, "schema hint rides along")
}

func TestSynthesizerRun_ParseFailureStillReportsSpend(t *testing.T) {
	client := &fakeAnthropic{resp: textReply("I cannot help with that.", 1000, 500)}
	s := NewSynthesizer(client, "test-model", synthCalc(), nil)

	details, _, spent, err := s.Run(context.Background(), testActor(), sampleExcerpts())
	require.Error(t, err)
	assert.Nil(t, details)
	assert.InDelta(t, 0.002, spent, 1e-9, "tokens were billed even though the reply was useless")
}

func TestSynthesizerRun_CallFailure(t *testing.T) {
	client := &fakeAnthropic{err: eris.New("api unavailable")}
	s := NewSynthesizer(client, "test-model", synthCalc(), nil)

	_, _, spent, err := s.Run(context.Background(), testActor(), sampleExcerpts())
	require.Error(t, err)
	assert.Zero(t, spent)
}

func TestSynthesizerRun_ResolvesCitations(t *testing.T) {
	var final string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hop" {
			http.Redirect(w, r, final+"/story", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	final = srv.URL

	client := &fakeAnthropic{resp: textReply(`{"circumstances": "confirmed"}`, 10, 10)}
	resolver := urlresolve.New(urlresolve.Options{})
	s := NewSynthesizer(client, "test-model", synthCalc(), resolver)

	excerpts := sampleExcerpts()
	excerpts[1].CitationURLs = []string{srv.URL + "/hop"}

	_, _, _, err := s.Run(context.Background(), testActor(), excerpts)
	require.NoError(t, err)

	require.NotEmpty(t, excerpts[1].ResolvedSources, "resolution lands on the caller's excerpts")
	assert.Contains(t, excerpts[1].ResolvedSources[0].URL, "/story")
}

func TestExcerptLabel(t *testing.T) {
	ex := model.RawExcerpt{SourceName: "perplexity"}
	assert.Equal(t, "perplexity", excerptLabel(ex))

	ex.ResolvedSources = []model.ResolvedSource{
		{URL: "https://example.com", Publisher: ""},
		{URL: "https://www.nytimes.com/obit", Publisher: "The New York Times"},
	}
	assert.Equal(t, "The New York Times", excerptLabel(ex),
		"first resolved publisher replaces the provider name")
}

func TestTopReliability(t *testing.T) {
	assert.Zero(t, topReliability(nil))
	assert.InDelta(t, 0.80, topReliability(sampleExcerpts()), 1e-9)
}
