package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateShortStringUntouched(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("Truncate = %q, want %q", got, "hello")
	}
}

func TestTruncateAppendsEllipsis(t *testing.T) {
	got := Truncate("hello world", 5)
	if got != "hello…" {
		t.Fatalf("Truncate = %q, want %q", got, "hello…")
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	// "é" is two bytes; a byte-level cut at 4 would split it.
	got := Truncate("caféteria", 4)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncate produced invalid UTF-8: %q", got)
	}
	if got != "caf…" {
		t.Fatalf("Truncate = %q, want %q", got, "caf…")
	}
}

func TestTruncateMultiByteText(t *testing.T) {
	s := strings.Repeat("日", 10) // 3 bytes per rune
	got := Truncate(s, 8)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncate produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("日", 2)+"…" {
		t.Fatalf("Truncate = %q", got)
	}
}

func TestUrlQuery(t *testing.T) {
	if got := UrlQuery("apple share price"); got != "apple+share+price" {
		t.Fatalf("UrlQuery = %q", got)
	}
}

func TestStr(t *testing.T) {
	if got := Str(nil); got != "" {
		t.Fatalf("Str(nil) = %q", got)
	}
	if got := Str(42); got != "42" {
		t.Fatalf("Str(42) = %q", got)
	}
}
