package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTargets_LabeledList(t *testing.T) {
	targets := ParseTargets("a|http://x,b|http://y", "", "")

	assert.Equal(t, []Target{
		{Label: "a", APIURL: "http://x"},
		{Label: "b", APIURL: "http://y"},
	}, targets)
}

func TestParseTargets_DerivesLabelFromHost(t *testing.T) {
	targets := ParseTargets(" http://edge-1:7000/api , |https://edge-2.example.com ", "", "")

	assert.Equal(t, []Target{
		{Label: "edge-1:7000", APIURL: "http://edge-1:7000/api"},
		{Label: "edge-2.example.com", APIURL: "https://edge-2.example.com"},
	}, targets)
}

func TestParseTargets_UnparsableURLUsesFallbackLabel(t *testing.T) {
	targets := ParseTargets("::not a url,no-scheme", "", "edge")

	assert.Equal(t, []Target{
		{Label: "edge", APIURL: "::not a url"},
		{Label: "edge", APIURL: "no-scheme"},
	}, targets)
}

func TestParseTargets_SkipsEmptyEntries(t *testing.T) {
	targets := ParseTargets(" , ,a|,|, c|http://c ,", "", "")

	assert.Equal(t, []Target{{Label: "c", APIURL: "http://c"}}, targets)
}

func TestParseTargets_SplitsOnFirstPipe(t *testing.T) {
	targets := ParseTargets("a|http://x|y", "", "")

	assert.Equal(t, []Target{{Label: "a", APIURL: "http://x|y"}}, targets)
}

func TestParseTargets_Fallback(t *testing.T) {
	targets := ParseTargets("", "http://fallback", "")
	assert.Equal(t, []Target{{Label: DefaultLabel, APIURL: "http://fallback"}}, targets)

	targets = ParseTargets("  ,  ", "http://fallback", "primary")
	assert.Equal(t, []Target{{Label: "primary", APIURL: "http://fallback"}}, targets)
}

func TestParseTargets_ListWinsOverFallback(t *testing.T) {
	targets := ParseTargets("http://x", "http://fallback", "")

	assert.Len(t, targets, 1)
	assert.Equal(t, "http://x", targets[0].APIURL)
}

func TestParseTargets_Empty(t *testing.T) {
	targets := ParseTargets("", "", "")

	assert.NotNil(t, targets)
	assert.Empty(t, targets)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://x/health", JoinURL("http://x", "/health"))
	assert.Equal(t, "http://x/health", JoinURL("http://x//", "/health"))
}
