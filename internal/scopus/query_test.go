package scopus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", NormalizeQuery(""))
	require.Equal(t, "a study of b cell receptors", NormalizeQuery("A Study of B-Cell Receptors"))
	require.Equal(t, "graphene oxide 2 0 films", NormalizeQuery("Graphene–Oxide (2.0) films"))
	require.Equal(t, "plain", NormalizeQuery("plain"))
}

func TestBareID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "85054321", BareID("2-s2.0-85054321"))
	require.Equal(t, "short", BareID("short"))
	require.Equal(t, "a-b", BareID("2-s2.0-a-b"))
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	got := SearchURL("https://scopus.example/", "B-Cell Receptors")
	require.Contains(t, got, "https://scopus.example/results/results.uri?")
	require.Contains(t, got, "s=ALL(%22b+cell+receptors%22)")
	require.Contains(t, got, "limit=10")
	require.Contains(t, got, "origin=searchbasic")
}

func TestCitedByURL(t *testing.T) {
	t.Parallel()

	got := CitedByURL("https://scopus.example", "2-s2.0-85054321")
	require.Equal(t,
		"https://scopus.example/search/submit/citedby.uri?eid=2-s2.0-85054321&src=s&origin=resultslist",
		got)
}

func TestReferencesURL(t *testing.T) {
	t.Parallel()

	got := ReferencesURL("https://scopus.example", "2-s2.0-85054321")
	require.Contains(t, got, "s=CITEID(85054321)")
	require.Contains(t, got, "citingId=2-s2.0-85054321")
}

func TestParseReferenceCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 42, parseReferenceCount("Document details - 42 references"))
	require.Equal(t, 1, parseReferenceCount("1 reference"))
	require.Equal(t, 0, parseReferenceCount("no count here"))
}
