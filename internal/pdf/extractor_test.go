package pdfutil

import (
	"strings"
	"testing"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	if _, err := Extract(strings.NewReader("plain text, not a deed")); err == nil {
		t.Fatal("expected an error for non-PDF input")
	}
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	if _, err := Extract(strings.NewReader("")); err == nil {
		t.Fatal("expected an error for empty input")
	}
}
