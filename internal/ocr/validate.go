package ocr

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DocumentType selects the format a document's text must contain.
type DocumentType string

const (
	NationalID DocumentType = "national_id"
	TaxID      DocumentType = "tax_id"
	Passport   DocumentType = "passport"
)

// The national id pattern needs digit boundaries: longer numbers such as
// 16-digit virtual ids must not count as an id.
var documentPatterns = map[DocumentType]*regexp.Regexp{
	NationalID: regexp.MustCompile(`(?:^|\D)\d{12}(?:\D|$)`),
	TaxID:      regexp.MustCompile(`[A-Z]{5}[0-9]{4}[A-Z]`),
	Passport:   regexp.MustCompile(`[A-Z][0-9]{7}`),
}

// ParseDocumentType maps a configuration value to a DocumentType.
func ParseDocumentType(s string) (DocumentType, error) {
	dt := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	if dt == "" {
		return NationalID, nil
	}
	if _, ok := documentPatterns[dt]; !ok {
		return "", fmt.Errorf("unknown document type %q", s)
	}
	return dt, nil
}

// CrossValidation compares extracted fields with the identity a user declared.
type CrossValidation struct {
	IDExtracted   bool `json:"id_extracted"`
	NameExtracted bool `json:"name_extracted"`
	IDMatch       bool `json:"id_match"`
	NameMatch     bool `json:"name_match"`
	Verified      bool `json:"verified"`
}

// Validator checks document format and cross-validates declared identities.
// In lenient mode a field that could not be extracted passes; strict mode
// fails it.
type Validator struct {
	docType DocumentType
	pattern *regexp.Regexp
	lenient bool
}

// NewValidator returns a validator for docType.
func NewValidator(docType DocumentType, lenient bool) (*Validator, error) {
	pattern, ok := documentPatterns[docType]
	if !ok {
		return nil, fmt.Errorf("unknown document type %q", docType)
	}
	return &Validator{docType: docType, pattern: pattern, lenient: lenient}, nil
}

// DocumentType returns the document type being validated.
func (v *Validator) DocumentType() DocumentType { return v.docType }

// Lenient reports whether unextracted fields pass.
func (v *Validator) Lenient() bool { return v.lenient }

// Validate reports whether the recognised text contains the document's
// required pattern.
func (v *Validator) Validate(res Result) bool {
	if res.Empty() {
		return v.lenient
	}
	return v.pattern.MatchString(strings.ToUpper(StripSpace(res.RawText)))
}

// CrossValidate compares res against the declared name and id. Verified is
// false when an extracted field disagrees with the declaration or a
// declaration is missing.
func (v *Validator) CrossValidate(res Result, declaredName, declaredID string) CrossValidation {
	cv := CrossValidation{
		IDExtracted:   res.ExtractedID != "",
		NameExtracted: res.ExtractedName != "",
	}
	declaredID = StripSpace(declaredID)
	declared := foldName(declaredName)
	if cv.IDExtracted && declaredID != "" {
		cv.IDMatch = StripSpace(res.ExtractedID) == declaredID
	}
	if cv.NameExtracted && declared != "" {
		extracted := foldName(res.ExtractedName)
		cv.NameMatch = strings.Contains(extracted, declared) || strings.Contains(declared, extracted)
	}

	idOK := cv.IDMatch || (!cv.IDExtracted && v.lenient && declaredID != "")
	nameOK := cv.NameMatch || (!cv.NameExtracted && v.lenient && declared != "")
	cv.Verified = idOK && nameOK
	return cv
}

func foldName(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(norm.NFKC.String(s))), " ")
}

// Excerpt returns at most limit runes of raw with whitespace collapsed, for
// audit records.
func Excerpt(raw string, limit int) string {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if limit <= 0 || utf8.RuneCountInString(collapsed) <= limit {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:limit])
}
