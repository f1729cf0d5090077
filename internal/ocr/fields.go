package ocr

import (
	"strings"
	"unicode"
)

// IDLength is the digit count of the primary identity number.
const IDLength = 12

// boilerplate lists card furniture that is never the holder's name.
var boilerplate = []string{
	"GOVERNMENT OF INDIA",
	"GOVERNMENT",
	"INDIA",
	"UNIQUE IDENTIFICATION AUTHORITY",
	"AADHAAR",
	"DOB",
	"DATE OF BIRTH",
	"YEAR OF BIRTH",
	"GENDER",
	"MALE",
	"FEMALE",
	"ADDRESS",
	"ENROLMENT",
	"VID",
}

// ExtractID returns the first run of exactly IDLength digits in raw once all
// whitespace has been removed, or "".
func ExtractID(raw string) string {
	stripped := StripSpace(raw)
	start := -1
	for i := 0; i <= len(stripped); i++ {
		if i < len(stripped) && stripped[i] >= '0' && stripped[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start == IDLength {
			return stripped[start:i]
		}
		start = -1
	}
	return ""
}

// ExtractName returns the first line of raw that has no digit, carries no
// boilerplate token and has two to four words, or "".
func ExtractName(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.IndexFunc(line, unicode.IsDigit) >= 0 {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 4 || isBoilerplate(line) {
			continue
		}
		return strings.Join(words, " ")
	}
	return ""
}

// StripSpace removes every whitespace rune from s.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isBoilerplate(line string) bool {
	tokens := strings.Fields(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return ' '
	}, line))
	padded := " " + strings.Join(tokens, " ") + " "
	for _, phrase := range boilerplate {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}
