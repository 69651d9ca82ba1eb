package auth

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrTokenNotFound is returned when the login page has no execution token at
// the expected place.
var ErrTokenNotFound = errors.New("execution token not found")

// TokenExtractor finds the anti-forgery execution token in a login page.
type TokenExtractor interface {
	ExtractExecutionToken(html []byte) (string, error)
}

// GoqueryTokenExtractor walks form -> section -> input the way the portal's
// login page is laid out.
type GoqueryTokenExtractor struct {
	FormSelector string
	SectionIndex int
}

// NewTokenExtractor returns an extractor for the stock login page layout.
func NewTokenExtractor() *GoqueryTokenExtractor {
	return &GoqueryTokenExtractor{FormSelector: "#fm1", SectionIndex: 4}
}

// ExtractExecutionToken implements TokenExtractor.
func (e *GoqueryTokenExtractor) ExtractExecutionToken(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}
	form := doc.Find(e.FormSelector).First()
	if form.Length() == 0 {
		return "", fmt.Errorf("%w: no %s form", ErrTokenNotFound, e.FormSelector)
	}
	section := form.Find("section").Eq(e.SectionIndex)
	if section.Length() == 0 {
		return "", fmt.Errorf("%w: no section %d", ErrTokenNotFound, e.SectionIndex)
	}
	value, ok := section.Find("input[name=execution]").First().Attr("value")
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrTokenNotFound
	}
	return value, nil
}
