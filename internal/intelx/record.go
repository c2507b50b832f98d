package intelx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const contentCeiling = 3000

// Kinds of outcome for one content-retrieval strategy.
type resultKind int

const (
	kindContent resultKind = iota
	kindEmpty
	kindPremium
	kindError
)

// recordResult is the tagged outcome of one strategy attempt. Keeping the
// chain in this shape makes each strategy testable while the public
// contract stays "always returns displayable text".
type recordResult struct {
	kind resultKind
	text string
}

// GetRecord fetches the content of one record, trying a chain of upstream
// endpoints. It never fails: every outcome, including network errors and
// paywalled records, is rendered as displayable text.
func (c *Client) GetRecord(ctx context.Context, recordID, bucket string) string {
	if c.config.DemoMode {
		return demoRecord(recordID, bucket)
	}

	httpClient := c.newHTTPClient()

	strategies := []func(context.Context, *resty.Client, string, string) recordResult{
		c.fetchPreview,
		c.fetchPreviewAlt,
		c.fetchRead,
	}

	var last recordResult
	for _, strategy := range strategies {
		last = strategy(ctx, httpClient, recordID, bucket)
		switch last.kind {
		case kindContent:
			return capContent(last.text)
		case kindPremium:
			return fmt.Sprintf(
				"The full contents of this record require a paid intelligence tier. (bucket: %s, record: %s)",
				bucket, recordID)
		}
		// kindEmpty and kindError fall through to the next strategy.
	}

	detail := last.text
	if detail == "" {
		detail = "no content returned"
	}
	return fmt.Sprintf("Content for record %s (bucket %s) could not be retrieved: %s",
		recordID, bucket, detail)
}

// fetchPreview is the primary preview endpoint: a bounded number of lines
// by storage id.
func (c *Client) fetchPreview(ctx context.Context, httpClient *resty.Client, recordID, bucket string) recordResult {
	resp, err := httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sid": recordID,
			"b":   bucket,
			"l":   "20",
		}).
		Get("/file/preview")
	return c.contentResult(resp, err)
}

// fetchPreviewAlt hits the same endpoint with the alternate parameter set
// some upstream deployments expect.
func (c *Client) fetchPreviewAlt(ctx context.Context, httpClient *resty.Client, recordID, bucket string) recordResult {
	resp, err := httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sid": recordID,
			"b":   bucket,
			"c":   "1",
			"m":   "24",
			"l":   "20",
		}).
		Get("/file/preview")
	return c.contentResult(resp, err)
}

// fetchRead is the raw file-read fallback.
func (c *Client) fetchRead(ctx context.Context, httpClient *resty.Client, recordID, bucket string) recordResult {
	resp, err := httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"type":      "0",
			"storageid": recordID,
			"bucket":    bucket,
		}).
		Get("/file/read")
	return c.contentResult(resp, err)
}

// contentResult converts one HTTP exchange into a tagged result. The body
// may be raw text or a JSON envelope wrapping records[0].contents.
func (c *Client) contentResult(resp *resty.Response, err error) recordResult {
	if err != nil {
		return recordResult{kind: kindError, text: err.Error()}
	}
	if resp.StatusCode() == http.StatusPaymentRequired {
		return recordResult{kind: kindPremium}
	}
	if resp.IsError() {
		return recordResult{kind: kindError, text: fmt.Sprintf("status %d", resp.StatusCode())}
	}

	body := resp.String()
	if strings.TrimSpace(body) == "" {
		return recordResult{kind: kindEmpty}
	}

	var envelope previewEnvelope
	if json.Unmarshal(resp.Body(), &envelope) == nil && len(envelope.Records) > 0 {
		contents := envelope.Records[0].Contents
		if strings.TrimSpace(contents) == "" {
			return recordResult{kind: kindEmpty}
		}
		return recordResult{kind: kindContent, text: contents}
	}

	return recordResult{kind: kindContent, text: body}
}

// capContent applies the display ceiling, noting the original length and
// the upgrade path when truncated. The ceiling counts characters, not
// bytes, so a cut never splits a multibyte rune.
func capContent(text string) string {
	runes := []rune(text)
	if len(runes) <= contentCeiling {
		return text
	}
	return fmt.Sprintf(
		"%s\n\n[Truncated: full content is %d characters. Upgrade to premium to unlock complete records.]",
		string(runes[:contentCeiling]), len(runes))
}
