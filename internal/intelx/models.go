package intelx

// Search term types accepted by the service.
const (
	TypeDomain = "domain"
	TypeIP     = "ip"
	TypeEmail  = "email"
	TypeHash   = "hash"
)

// ValidType reports whether t is one of the supported search term types.
func ValidType(t string) bool {
	switch t {
	case TypeDomain, TypeIP, TypeEmail, TypeHash:
		return true
	}
	return false
}

// SearchRequest is one user search action.
type SearchRequest struct {
	Term string `json:"term"`
	Type string `json:"type"`
}

// UpstreamRecord is the raw record shape returned by the intelligence API.
// Media comes back as either a string or an integer depending on the
// endpoint version, so it stays loosely typed until normalization.
type UpstreamRecord struct {
	SystemID  string      `json:"systemid"`
	StorageID string      `json:"storageid"`
	Bucket    string      `json:"bucket"`
	Added     string      `json:"added"`
	Name      string      `json:"name"`
	Size      int64       `json:"size"`
	Media     interface{} `json:"media"`
	Contents  string      `json:"contents,omitempty"`
}

// submitResponse is the envelope of the search-submission endpoint.
type submitResponse struct {
	ID string `json:"id"`
}

// resultEnvelope is the envelope of the search-result endpoint.
type resultEnvelope struct {
	Records    []UpstreamRecord `json:"records"`
	Statistics struct {
		Total   int            `json:"total"`
		Buckets map[string]int `json:"buckets"`
	} `json:"statistics"`
}

// previewEnvelope wraps the JSON variant of the content endpoints.
type previewEnvelope struct {
	Records []struct {
		Contents string `json:"contents"`
	} `json:"records"`
}

// Risk levels assigned to normalized results.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// NormalizedResult is the stable result shape exposed to callers.
type NormalizedResult struct {
	ID        string `json:"id"`
	StorageID string `json:"storage_id"`
	Type      string `json:"type"`
	Term      string `json:"term"`
	Bucket    string `json:"bucket"`
	Added     string `json:"added"`
	Size      int64  `json:"size"`
	Media     string `json:"media"`
	Contents  string `json:"contents,omitempty"`
	Preview   string `json:"preview"`
	LastSeen  string `json:"last_seen"`
	Source    string `json:"source"`
	RiskLevel string `json:"risk_level"`
}

// SearchOutcome is the aggregate returned by one search.
type SearchOutcome struct {
	Results []NormalizedResult `json:"results"`
	Total   int                `json:"total"`
	Buckets map[string]int     `json:"buckets"`
}
