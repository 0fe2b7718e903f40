// Package filter classifies oracle-suggested links against the focus rules.
// Classification is pure: it never fails and performs no I/O.
package filter

import (
	"strings"

	"github.com/jask/focusguard/internal/policy"
)

// BlockReason is shown for every blocked result.
const BlockReason = "Restricted by focus filter."

var (
	DefaultBlockedTLDs = []string{".xxx", ".porn", ".sex", ".adult", ".bet", ".casino", ".poker", ".game", ".games"}

	DefaultBlockedSites = []string{
		"facebook.com", "instagram.com", "tiktok.com", "twitter.com",
		"reddit.com", "netflix.com", "twitch.tv", "snapchat.com", "pinterest.com",
	}
)

var trustedMarkers = []string{".gov", ".edu", ".org"}

// Candidate is a raw link before classification.
type Candidate struct {
	Title        string
	URL          string
	Snippet      string
	ThumbnailURL string
}

// Result is a classified link. Trusted and Blocked are always derived here.
type Result struct {
	Title        string
	URL          string
	Snippet      string
	ThumbnailURL string
	Trusted      bool
	Blocked      bool
	BlockReason  string
}

// Filter holds the blocklists. The zero value blocks nothing by TLD or site.
type Filter struct {
	blockedTLDs  []string
	blockedSites []string
}

// New builds a filter; nil lists fall back to the defaults.
func New(blockedTLDs, blockedSites []string) *Filter {
	if blockedTLDs == nil {
		blockedTLDs = DefaultBlockedTLDs
	}
	if blockedSites == nil {
		blockedSites = DefaultBlockedSites
	}
	return &Filter{
		blockedTLDs:  normalizeList(blockedTLDs),
		blockedSites: normalizeList(blockedSites),
	}
}

// Classify applies the focus rules to one candidate.
func (f *Filter) Classify(c Candidate, query string, role policy.Role) Result {
	u := strings.ToLower(c.URL)

	// substring match: "example.org.evil.io" counts as trusted
	trusted := containsAny(u, trustedMarkers)

	// the whole URL must end in the suffix; "https://site.bet/" does not
	blockedByTLD := hasAnySuffix(u, f.blockedTLDs)
	blockedBySite := containsAny(u, f.blockedSites)

	isVideoHost := strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be")
	isLearningPath := strings.Contains(u, "youtube.com/learning")
	q := strings.ToLower(query)
	videoIntent := strings.Contains(q, "video") || strings.Contains(q, "youtube")
	videoException := policy.AllowsVideo(role) && (isLearningPath || videoIntent)

	blocked := blockedByTLD || blockedBySite || (isVideoHost && !videoException)

	r := Result{
		Title:        c.Title,
		URL:          c.URL,
		Snippet:      c.Snippet,
		ThumbnailURL: c.ThumbnailURL,
		Trusted:      trusted,
		Blocked:      blocked,
	}
	if blocked {
		r.BlockReason = BlockReason
	}
	return r
}

// ClassifyAll classifies in input order.
func (f *Filter) ClassifyAll(cs []Candidate, query string, role policy.Role) []Result {
	out := make([]Result, 0, len(cs))
	for _, c := range cs {
		out = append(out, f.Classify(c, query, role))
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
