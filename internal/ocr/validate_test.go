package ocr

import "testing"

func TestExtractID(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"spaced groups", "Aadhaar\n6477 7450 9944\n", "647774509944"},
		{"first of two", "111122223333 and 444455556666", "111122223333"},
		{"longer run skipped", "1234567890123456", ""},
		{"too short", "12345", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractID(tc.raw); got != tc.want {
				t.Fatalf("ExtractID(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractName(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"card", sampleCardText, "Rahul Kumar Sharma"},
		{"skips labels", "Date of Birth\nGender Female\nPriya  Nair\n", "Priya Nair"},
		{"single word", "Rahul\n", ""},
		{"too many words", "one two three four five\n", ""},
		{"digits", "Flat 4 Main Road\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractName(tc.raw); got != tc.want {
				t.Fatalf("ExtractName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	lenient, _ := NewValidator(NationalID, true)
	strict, _ := NewValidator(NationalID, false)

	withID := Result{RawText: sampleCardText, ExtractedID: "647774509944"}
	nameOnly := Result{RawText: "Rahul Sharma", ExtractedName: "Rahul Sharma"}

	if !lenient.Validate(withID) {
		t.Fatal("expected card with id to be valid")
	}
	if lenient.Validate(nameOnly) {
		t.Fatal("expected card without id number to be invalid")
	}
	if !lenient.Validate(Result{}) {
		t.Fatal("expected lenient validator to pass unreadable documents")
	}
	if strict.Validate(Result{}) {
		t.Fatal("expected strict validator to fail unreadable documents")
	}

	tax, _ := NewValidator(TaxID, true)
	if !tax.Validate(Result{RawText: "Permanent Account\nabcde 1234 f", ExtractedName: "Permanent Account"}) {
		t.Fatal("expected tax id pattern to match case-insensitively")
	}
}

func TestCrossValidateMatch(t *testing.T) {
	v, _ := NewValidator(NationalID, true)
	res := Result{RawText: sampleCardText, ExtractedID: ExtractID(sampleCardText), ExtractedName: ExtractName(sampleCardText)}

	cv := v.CrossValidate(res, "RAHUL SHARMA KUMAR", "647774509944")
	if !cv.IDMatch {
		t.Fatal("expected id match")
	}
	if cv.NameMatch {
		t.Fatal("expected reordered name not to match")
	}
	if cv.Verified {
		t.Fatal("expected name mismatch to fail verification")
	}

	cv = v.CrossValidate(res, "rahul kumar", "6477 7450 9944")
	if !cv.IDMatch || !cv.NameMatch || !cv.Verified {
		t.Fatalf("expected partial name and spaced id to pass, got %+v", cv)
	}
}

func TestCrossValidateMismatch(t *testing.T) {
	v, _ := NewValidator(NationalID, true)
	res := Result{RawText: sampleCardText, ExtractedID: "647774509944", ExtractedName: "Rahul Kumar Sharma"}

	cv := v.CrossValidate(res, "Rahul Kumar Sharma", "111111111111")
	if cv.IDMatch || cv.Verified {
		t.Fatalf("expected id mismatch to fail, got %+v", cv)
	}
}

func TestCrossValidateUnextractedFields(t *testing.T) {
	lenient, _ := NewValidator(NationalID, true)
	strict, _ := NewValidator(NationalID, false)

	if cv := lenient.CrossValidate(Result{}, "Anyone", "123412341234"); !cv.Verified || cv.IDMatch {
		t.Fatalf("expected lenient pass without matches, got %+v", cv)
	}
	if cv := strict.CrossValidate(Result{}, "Anyone", "123412341234"); cv.Verified {
		t.Fatalf("expected strict failure, got %+v", cv)
	}
}

func TestParseDocumentType(t *testing.T) {
	if dt, err := ParseDocumentType(""); err != nil || dt != NationalID {
		t.Fatalf("expected default national id, got %q %v", dt, err)
	}
	if dt, err := ParseDocumentType("Passport"); err != nil || dt != Passport {
		t.Fatalf("expected passport, got %q %v", dt, err)
	}
	if _, err := ParseDocumentType("library_card"); err == nil {
		t.Fatal("expected unknown document type error")
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("  a\n b   c ", 10); got != "a b c" {
		t.Fatalf("unexpected excerpt %q", got)
	}
	if got := Excerpt("नमस्ते दुनिया", 3); got != "नमस" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestValidateRequiresExactIDLength(t *testing.T) {
	v, _ := NewValidator(NationalID, true)

	cases := map[string]struct {
		raw  string
		want bool
	}{
		"twelve digits":   {"Rahul Kumar Sharma\n6477 7450 9944\n", true},
		"thirteen digits": {"Rahul Kumar Sharma\n6477 7450 9944 1\n", false},
		"sixteen digits":  {"Rahul Kumar Sharma\nVID 9112 3456 7890 1234\n", false},
		"digits only":     {"647774509944", true},
	}
	for name, tc := range cases {
		res := Result{RawText: tc.raw, ExtractedID: ExtractID(tc.raw), ExtractedName: ExtractName(tc.raw)}
		if got := v.Validate(res); got != tc.want {
			t.Errorf("%s: Validate = %v, want %v", name, got, tc.want)
		}
	}
}

func TestCrossValidateEmptyDeclarationFails(t *testing.T) {
	lenient, _ := NewValidator(NationalID, true)
	nameOnly := Result{RawText: "Rahul Kumar Sharma\nMale\n", ExtractedName: "Rahul Kumar Sharma"}

	cv := lenient.CrossValidate(nameOnly, "", "")
	if cv.Verified || cv.NameMatch {
		t.Fatalf("expected empty declaration to fail, got %+v", cv)
	}
	if cv := lenient.CrossValidate(Result{}, "Rahul Kumar", ""); cv.Verified {
		t.Fatalf("expected missing declared id to fail, got %+v", cv)
	}
}
