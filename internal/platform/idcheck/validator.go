package idcheck

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// Expected holds the registration details the card must show.
type Expected struct {
	StudentNumber string
	FirstName     string
	LastName      string
}

// Result is the outcome of one validation.
type Result struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
	Text    string   `json:"-"`
}

// Validator checks an ID image against expected details.
type Validator interface {
	Validate(ctx context.Context, image []byte, expected Expected) (*Result, error)
}

// OCRValidator requires the student number and last name to appear in the
// detected text. The first name is not checked.
type OCRValidator struct {
	ocr TextDetector
}

func NewOCRValidator(ocr TextDetector) *OCRValidator {
	return &OCRValidator{ocr: ocr}
}

func (v *OCRValidator) Validate(ctx context.Context, image []byte, expected Expected) (*Result, error) {
	text, err := v.ocr.DetectText(ctx, image)
	if errors.Is(err, ErrNoText) {
		return &Result{Reasons: []string{"no readable text found on the ID image"}}, nil
	}
	if err != nil {
		return nil, err
	}
	return Match(text, expected), nil
}

// Match compares OCR text against the expected details.
func Match(text string, expected Expected) *Result {
	res := &Result{Text: text}

	words := " " + normalizeWords(text) + " "
	compact := compactAlnum(text)

	if num := compactAlnum(expected.StudentNumber); num == "" || !strings.Contains(compact, num) {
		res.Reasons = append(res.Reasons, "student number not found on the ID image")
	}
	if last := normalizeWords(expected.LastName); last == "" || !strings.Contains(words, " "+last+" ") {
		res.Reasons = append(res.Reasons, "last name not found on the ID image")
	}

	res.Valid = len(res.Reasons) == 0
	return res
}

// normalizeWords upper-cases s and collapses every run of non-alphanumeric
// characters into one space.
func normalizeWords(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

func compactAlnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NoopValidator accepts every image. Used when no OCR API is configured.
type NoopValidator struct{}

func (NoopValidator) Validate(context.Context, []byte, Expected) (*Result, error) {
	return &Result{Valid: true}, nil
}
