package intelx

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		bucket   string
		termType string
		want     string
	}{
		{"leaks", TypeDomain, RiskHigh},
		{"leaks", TypeEmail, RiskHigh},
		{"darknet", TypeIP, RiskHigh},
		{"darknet", TypeEmail, RiskHigh},
		{"pastes", TypeEmail, RiskMedium},
		{"pastes", TypeDomain, RiskLow},
		{"public", TypeEmail, RiskLow},
		{"public", TypeHash, RiskLow},
		{"", TypeEmail, RiskLow},
		{"whois", TypeDomain, RiskLow},
	}
	for _, tt := range tests {
		if got := riskLevel(tt.bucket, tt.termType); got != tt.want {
			t.Errorf("riskLevel(%q, %q) = %q, want %q", tt.bucket, tt.termType, got, tt.want)
		}
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		bucket string
		want   string
	}{
		{"pastes", "Paste Sites"},
		{"leaks", "Data Breaches"},
		{"public", "Public Records"},
		{"darknet", "Dark Web"},
		{"whois", "whois"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sourceLabel(tt.bucket); got != tt.want {
			t.Errorf("sourceLabel(%q) = %q, want %q", tt.bucket, got, tt.want)
		}
	}
}

func TestMakePreview(t *testing.T) {
	if got := makePreview(""); got != "Preview unavailable" {
		t.Errorf("empty contents: got %q", got)
	}
	if got := makePreview("   \n "); got != "Preview unavailable" {
		t.Errorf("whitespace contents: got %q", got)
	}

	short := "leaked credentials"
	if got := makePreview(short); got != short {
		t.Errorf("short contents: got %q", got)
	}

	long := strings.Repeat("a", 500)
	got := makePreview(long)
	if len(got) != previewLimit+3 {
		t.Errorf("truncated preview length = %d, want %d", len(got), previewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated preview missing ellipsis: %q", got[len(got)-10:])
	}
	if got[:previewLimit] != long[:previewLimit] {
		t.Error("truncated preview does not match original prefix")
	}
}

func TestMakePreviewMultibyte(t *testing.T) {
	long := "a" + strings.Repeat("é", 400)
	got := makePreview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated preview is not valid UTF-8: tail %q", got[len(got)-8:])
	}
	if n := utf8.RuneCountInString(got); n != previewLimit+3 {
		t.Errorf("truncated preview rune count = %d, want %d", n, previewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated preview missing ellipsis: %q", got[len(got)-10:])
	}
	if !strings.HasPrefix(long, strings.TrimSuffix(got, "...")) {
		t.Error("truncated preview does not match original prefix")
	}
}

func TestLastSeen(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		added string
		want  string
	}{
		{now.Format("2006-01-02 15:04:05"), "Today"},
		{now.Add(-3 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "3 days ago"},
		{now.Add(-1 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "1 day ago"},
		{now.Add(-14 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "2 weeks ago"},
		{now.Add(-60 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "2 months ago"},
		{now.Add(-800 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "2 years ago"},
		{now.Add(-400 * 24 * time.Hour).Format("2006-01-02 15:04:05"), "1 year ago"},
		{"2024-06-14", "1 day ago"},
		{"not a date", "Unknown"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		if got := lastSeen(tt.added, now); got != tt.want {
			t.Errorf("lastSeen(%q) = %q, want %q", tt.added, got, tt.want)
		}
	}
}

func TestMediaLabel(t *testing.T) {
	tests := []struct {
		media interface{}
		want  string
	}{
		{nil, ""},
		{"text", "text"},
		{float64(24), "24"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := mediaLabel(tt.media); got != tt.want {
			t.Errorf("mediaLabel(%v) = %q, want %q", tt.media, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	rec := UpstreamRecord{
		SystemID:  "sys-1",
		StorageID: "stor-1",
		Bucket:    "leaks",
		Added:     "2020-01-01 00:00:00",
		Size:      1024,
		Media:     float64(24),
		Contents:  "user:password",
	}
	req := SearchRequest{Term: "example.com", Type: TypeDomain}

	got := Normalize(rec, req)

	if got.ID != "sys-1" || got.StorageID != "stor-1" {
		t.Errorf("ids not carried over: %+v", got)
	}
	if got.Term != "example.com" || got.Type != TypeDomain {
		t.Errorf("request fields not carried over: %+v", got)
	}
	if got.Source != "Data Breaches" {
		t.Errorf("Source = %q, want Data Breaches", got.Source)
	}
	if got.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %q, want High", got.RiskLevel)
	}
	if got.Preview != "user:password" {
		t.Errorf("Preview = %q", got.Preview)
	}
	if got.Media != "24" {
		t.Errorf("Media = %q, want 24", got.Media)
	}
	if got.LastSeen == "Unknown" {
		t.Error("LastSeen should parse a valid date")
	}

	again := Normalize(rec, req)
	again.LastSeen = got.LastSeen // LastSeen depends on the clock
	if again != got {
		t.Errorf("Normalize is not deterministic: %+v vs %+v", got, again)
	}
}
