package intelx

import (
	"fmt"
	"strings"
	"time"
)

const previewLimit = 300

// Normalize derives the stable result shape from one upstream record. It
// is a pure function of its inputs: normalizing the same record twice
// yields identical results.
func Normalize(rec UpstreamRecord, req SearchRequest) NormalizedResult {
	return NormalizedResult{
		ID:        rec.SystemID,
		StorageID: rec.StorageID,
		Type:      req.Type,
		Term:      req.Term,
		Bucket:    rec.Bucket,
		Added:     rec.Added,
		Size:      rec.Size,
		Media:     mediaLabel(rec.Media),
		Contents:  rec.Contents,
		Preview:   makePreview(rec.Contents),
		LastSeen:  lastSeen(rec.Added, time.Now()),
		Source:    sourceLabel(rec.Bucket),
		RiskLevel: riskLevel(rec.Bucket, req.Type),
	}
}

// riskLevel is a total function over bucket and term type.
func riskLevel(bucket, termType string) string {
	switch {
	case bucket == "leaks" || bucket == "darknet":
		return RiskHigh
	case bucket == "pastes" && termType == TypeEmail:
		return RiskMedium
	default:
		return RiskLow
	}
}

var sourceLabels = map[string]string{
	"pastes":  "Paste Sites",
	"leaks":   "Data Breaches",
	"public":  "Public Records",
	"darknet": "Dark Web",
}

// sourceLabel maps a bucket to its display label, defaulting to the raw
// bucket name for unknown buckets.
func sourceLabel(bucket string) string {
	if label, ok := sourceLabels[bucket]; ok {
		return label
	}
	return bucket
}

// makePreview truncates contents to a bounded number of characters. The
// cut falls on rune boundaries so multibyte text stays valid UTF-8.
// Absent contents read as an explicit placeholder, never an empty string.
func makePreview(contents string) string {
	if strings.TrimSpace(contents) == "" {
		return "Preview unavailable"
	}
	runes := []rune(contents)
	if len(runes) <= previewLimit {
		return contents
	}
	return string(runes[:previewLimit]) + "..."
}

// Timestamp layouts observed from the upstream API.
var addedLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// lastSeen buckets the elapsed time since the record was added into a
// human label. Unparsable dates yield "Unknown" rather than failing the
// search.
func lastSeen(added string, now time.Time) string {
	var parsed time.Time
	var err error
	for _, layout := range addedLayouts {
		parsed, err = time.Parse(layout, added)
		if err == nil {
			break
		}
	}
	if err != nil || parsed.IsZero() {
		return "Unknown"
	}

	elapsed := now.Sub(parsed)
	days := int(elapsed.Hours() / 24)
	switch {
	case days <= 0:
		return "Today"
	case days < 7:
		return pluralize(days, "day")
	case days < 30:
		return pluralize(days/7, "week")
	case days < 365:
		return pluralize(days/30, "month")
	default:
		return pluralize(days/365, "year")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// mediaLabel renders the loosely typed media field as a string.
func mediaLabel(media interface{}) string {
	switch v := media.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
