// Package scopus implements the per-stage page actions: the brittle,
// page-specific glue the scheduler drives through the Executor
// interface.
package scopus

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const defaultBaseURL = "https://www-scopus-com.ezproxy.cityu.edu.hk"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NormalizeQuery lowercases s and collapses runs of non-alphanumeric
// characters into single spaces, matching how search queries are built
// from titles.
func NormalizeQuery(s string) string {
	if s == "" {
		return ""
	}
	return nonAlnum.ReplaceAllString(strings.ToLower(s), " ")
}

// SearchURL builds the all-fields title search for the miscited stage.
func SearchURL(base, title string) string {
	query := url.QueryEscape(fmt.Sprintf("%q", NormalizeQuery(title)))
	return fmt.Sprintf(
		"%s/results/results.uri?sort=plf-f&src=dm&s=ALL(%s)&limit=10&sessionSearchId=placeholder&origin=searchbasic&sdt=b",
		strings.TrimRight(base, "/"), query)
}

// CitedByURL builds the cited-by listing for one document.
func CitedByURL(base, eid string) string {
	return fmt.Sprintf("%s/search/submit/citedby.uri?eid=%s&src=s&origin=resultslist",
		strings.TrimRight(base, "/"), url.QueryEscape(eid))
}

// ReferencesURL builds the reference listing for one citing document.
// EIDs are of the form 2-s2.0-<id>; the listing query wants the bare
// trailing id.
func ReferencesURL(base, citingEID string) string {
	return fmt.Sprintf("%s/results/references.uri?src=r&sot=rec&s=CITEID(%s)&citingId=%s",
		strings.TrimRight(base, "/"), url.QueryEscape(BareID(citingEID)), url.QueryEscape(citingEID))
}

// BareID extracts the trailing numeric segment of an EID. An EID with
// fewer than three segments is returned unchanged.
func BareID(eid string) string {
	parts := strings.SplitN(eid, "-", 3)
	if len(parts) < 3 {
		return eid
	}
	return parts[2]
}
