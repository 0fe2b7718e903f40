package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jask/focusguard/internal/policy"
)

// OfflineOracle is a heuristic, network-free oracle. It keeps the app usable
// without an API key: distraction keywords are rejected, everything else is
// answered with links into a fixed catalogue of reference sites.
type OfflineOracle struct {
	maxLinks int
}

func NewOfflineOracle(maxLinks int) *OfflineOracle {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &OfflineOracle{maxLinks: maxLinks}
}

var distractionTerms = []string{
	"celebrity", "gossip", "meme", "memes", "funny", "prank", "gaming", "fortnite",
	"minecraft", "tiktok", "instagram", "netflix", "trailer", "dating", "horoscope",
	"lottery", "casino", "betting", "porn", "nsfw", "shopping deals",
}

type catalogueEntry struct {
	title   string
	pattern string
	snippet string
	roles   []policy.Role
}

var catalogue = []catalogueEntry{
	{"Wikipedia", "https://en.wikipedia.org/w/index.php?search=%s", "Encyclopedia overview of %s.", nil},
	{"Google Scholar", "https://scholar.google.com/scholar?q=%s", "Scholarly literature on %s.", []policy.Role{policy.RoleResearcher, policy.RoleTeacher}},
	{"arXiv", "https://arxiv.org/a/search?query=%s", "Preprints mentioning %s.", []policy.Role{policy.RoleResearcher}},
	{"PubMed", "https://pubmed.ncbi.nlm.nih.gov/?term=%s", "Biomedical citations for %s.", []policy.Role{policy.RoleResearcher}},
	{"Khan Academy", "https://www.khanacademy.org/search?page_search_query=%s", "Lessons and practice on %s.", []policy.Role{policy.RoleStudent, policy.RoleTeacher}},
	{"OpenStax", "https://openstax.org/search?q=%s", "Free textbook sections about %s.", []policy.Role{policy.RoleStudent, policy.RoleTeacher}},
	{"YouTube Learning", "https://www.youtube.com/learning?search=%s", "Educational videos on %s.", []policy.Role{policy.RoleStudent, policy.RoleTeacher}},
	{"Library of Congress", "https://www.loc.gov/search/?q=%s", "Primary sources related to %s.", nil},
	{"MIT OpenCourseWare", "https://ocw.mit.edu/search/?q=%s", "Course materials covering %s.", nil},
}

// Judge implements Oracle.
func (o *OfflineOracle) Judge(ctx context.Context, req Request) (Verdict, error) {
	if err := validateRequest(req); err != nil {
		return Verdict{}, err
	}
	if err := ctx.Err(); err != nil {
		return Verdict{}, ErrOracleUnavailable
	}

	q := strings.TrimSpace(req.Query)
	lower := strings.ToLower(q)
	for _, term := range distractionTerms {
		if strings.Contains(lower, term) {
			return Verdict{
				IsValid:        false,
				Reason:         fmt.Sprintf("%q looks like a distraction from %s work.", term, req.Role),
				SuggestedLinks: []Link{},
			}, nil
		}
	}

	links := make([]Link, 0, o.maxLinks)
	escaped := url.QueryEscape(q)
	for _, e := range catalogue {
		if len(links) == o.maxLinks {
			break
		}
		if !entryFor(e, req.Role) {
			continue
		}
		links = append(links, Link{
			Title:   e.title + ": " + q,
			URL:     fmt.Sprintf(e.pattern, escaped),
			Snippet: fmt.Sprintf(e.snippet, q),
		})
	}

	reason := "Query accepted."
	if focusScore(lower, req.Role) > 0 {
		reason = fmt.Sprintf("Query matches the %s focus area.", req.Role)
	}
	return Verdict{IsValid: true, Reason: reason, SuggestedLinks: links}, nil
}

func entryFor(e catalogueEntry, role policy.Role) bool {
	if len(e.roles) == 0 {
		return true
	}
	for _, r := range e.roles {
		if r == role {
			return true
		}
	}
	return false
}

// focusScore counts role focus terms present in the query. It only picks the
// reason text; queries without focus terms are still accepted.
func focusScore(lowerQuery string, role policy.Role) int {
	rule, ok := policy.Lookup(role)
	if !ok {
		return 0
	}
	toks := tokens(lowerQuery)
	n := 0
	for _, term := range rule.FocusTerms {
		if _, ok := toks[term]; ok {
			n++
		}
	}
	return n
}

func tokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '_' || r == '/' || r == ',' || r == '?' })
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}
