package handlers

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

var supportedDisplayLanguages = []language.Tag{
	language.English,
	language.Japanese,
	language.German,
	language.French,
	language.Spanish,
}

// Localizer picks the language used for *_display money fields from Accept-Language.
type Localizer struct {
	fallback language.Tag
	matcher  language.Matcher
}

// NewLocalizer builds a Localizer whose first choice is fallback.
func NewLocalizer(fallback language.Tag) *Localizer {
	if fallback == language.Und {
		fallback = language.English
	}
	tags := []language.Tag{fallback}
	for _, tag := range supportedDisplayLanguages {
		if tag != fallback {
			tags = append(tags, tag)
		}
	}
	return &Localizer{fallback: fallback, matcher: language.NewMatcher(tags)}
}

// Tag resolves the display language for r.
func (l *Localizer) Tag(r *http.Request) language.Tag {
	if l == nil {
		return language.English
	}
	header := strings.TrimSpace(r.Header.Get("Accept-Language"))
	if header == "" {
		return l.fallback
	}
	tag, _ := language.MatchStrings(l.matcher, header)
	if tag == language.Und {
		return l.fallback
	}
	return tag
}

// amountInput accepts money either as minor units or as a decimal display string.
type amountInput struct {
	Cents   *int64
	Display string
}

// resolve returns the amount in minor units. Both forms may be sent only when they agree.
func (a amountInput) resolve(field string, required bool) (domain.Money, error) {
	display := strings.TrimSpace(a.Display)
	switch {
	case a.Cents == nil && display == "":
		if required {
			return 0, httpx.NewError("invalid_request", field+"_cents or "+field+" is required", http.StatusBadRequest).
				WithDetails(map[string]any{"field": field})
		}
		return 0, nil
	case display == "":
		return domain.Money(*a.Cents), nil
	}

	parsed, err := domain.ParseDisplay(display)
	if err != nil {
		return 0, httpx.NewError("invalid_request", field+" must be a decimal amount such as \"123.45\"", http.StatusBadRequest).
			WithDetails(map[string]any{"field": field})
	}
	if a.Cents != nil && domain.Money(*a.Cents) != parsed {
		return 0, httpx.NewError("invalid_request", field+"_cents and "+field+" disagree", http.StatusBadRequest).
			WithDetails(map[string]any{"field": field})
	}
	return parsed, nil
}
