package intelx

import (
	"fmt"
	"time"
)

// Demo mode serves canned results so the service can run end to end
// without an upstream API key. Selected only by explicit configuration.

func demoOutcome(req SearchRequest) *SearchOutcome {
	added := time.Now().AddDate(0, 0, -3).Format("2006-01-02 15:04:05")
	records := []UpstreamRecord{
		{
			SystemID:  "demo-0001",
			StorageID: "demo-storage-0001",
			Bucket:    "leaks",
			Added:     added,
			Name:      "combo_list_2024.txt",
			Size:      48211,
			Media:     "text",
			Contents:  fmt.Sprintf("Sample breach entry matching %q. This record was served by demo mode.", req.Term),
		},
		{
			SystemID:  "demo-0002",
			StorageID: "demo-storage-0002",
			Bucket:    "pastes",
			Added:     added,
			Name:      "paste_dump.txt",
			Size:      1032,
			Media:     "text",
			Contents:  fmt.Sprintf("Paste snippet mentioning %q.", req.Term),
		},
	}

	results := make([]NormalizedResult, 0, len(records))
	buckets := make(map[string]int)
	for _, rec := range records {
		results = append(results, Normalize(rec, req))
		buckets[rec.Bucket]++
	}

	return &SearchOutcome{Results: results, Total: len(results), Buckets: buckets}
}

func demoRecord(recordID, bucket string) string {
	return fmt.Sprintf(
		"Demo mode content for record %s (bucket %s). Configure an API key to retrieve live records.",
		recordID, bucket)
}
