package llm

import (
	"context"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"

	"github.com/jask/focusguard/internal/policy"
)

// Oracle judges whether a query fits the role's focus and proposes links.
// Implementations make exactly one external exchange per call and never retry.
type Oracle interface {
	Judge(ctx context.Context, req Request) (Verdict, error)
}

var (
	// ErrOracleUnavailable covers network, timeout and upstream API failures.
	ErrOracleUnavailable = errors.New("oracle: unavailable")
	// ErrMalformedResponse means the reply broke the verdict schema.
	ErrMalformedResponse = errors.New("oracle: malformed response")
	// ErrNoAPIKey is returned before any request when no key is configured.
	ErrNoAPIKey = errors.New("oracle: api key not configured")
)

// DefaultMaxLinks bounds suggestedLinks when the caller sets no limit.
const DefaultMaxLinks = 8

// Request is what the oracle is asked.
type Request struct {
	Query string      `json:"query"`
	Role  policy.Role `json:"role"`
}

// Link is a raw suggested link as the oracle returned it.
type Link struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Snippet      string `json:"snippet"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Verdict is a schema-checked oracle reply.
type Verdict struct {
	IsValid        bool   `json:"isValid"`
	Reason         string `json:"reason"`
	SuggestedLinks []Link `json:"suggestedLinks"`
}

// wireVerdict uses pointers so a missing field is distinguishable from a zero value.
type wireVerdict struct {
	IsValid        *bool       `json:"isValid" validate:"required"`
	Reason         *string     `json:"reason" validate:"required"`
	SuggestedLinks *[]wireLink `json:"suggestedLinks" validate:"required,dive"`
}

type wireLink struct {
	Title        string `json:"title" validate:"required"`
	URL          string `json:"url" validate:"required,absurl"`
	Snippet      string `json:"snippet" validate:"required"`
	ThumbnailURL string `json:"thumbnailUrl" validate:"omitempty,absurl"`
}

var verdictValidate *validator.Validate

func init() {
	verdictValidate = validator.New()
	_ = verdictValidate.RegisterValidation("absurl", validateAbsoluteURL)
}

func validateAbsoluteURL(fl validator.FieldLevel) bool {
	return isAbsoluteURL(fl.Field().String())
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// ParseVerdict decodes raw model text into a Verdict, enforcing the schema
// and the maxLinks bound. Violations wrap ErrMalformedResponse.
func ParseVerdict(text string, maxLinks int) (Verdict, error) {
	var w wireVerdict
	if err := decodeJSON(text, &w); err != nil {
		return Verdict{}, errors.Wrap(ErrMalformedResponse, err.Error())
	}
	if err := verdictValidate.Struct(&w); err != nil {
		return Verdict{}, errors.Wrap(ErrMalformedResponse, err.Error())
	}
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	if len(*w.SuggestedLinks) > maxLinks {
		return Verdict{}, errors.Wrapf(ErrMalformedResponse, "%d links exceeds limit %d", len(*w.SuggestedLinks), maxLinks)
	}

	v := Verdict{
		IsValid:        *w.IsValid,
		Reason:         strings.TrimSpace(*w.Reason),
		SuggestedLinks: make([]Link, 0, len(*w.SuggestedLinks)),
	}
	for _, l := range *w.SuggestedLinks {
		v.SuggestedLinks = append(v.SuggestedLinks, Link{
			Title:        strings.TrimSpace(l.Title),
			URL:          strings.TrimSpace(l.URL),
			Snippet:      strings.TrimSpace(l.Snippet),
			ThumbnailURL: strings.TrimSpace(l.ThumbnailURL),
		})
	}
	return v, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return errors.New("oracle: empty query")
	}
	if !req.Role.Valid() {
		return errors.Errorf("oracle: role %s is not an operating role", req.Role)
	}
	return nil
}
