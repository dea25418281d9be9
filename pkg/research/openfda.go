package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// enforcement endpoints relative to the openFDA base URL.
const (
	drugEnforcementPath   = "/drug/enforcement.json"
	deviceEnforcementPath = "/device/enforcement.json"
)

// enforcementResponse is the subset of the openFDA enforcement schema
// the agent consumes.
type enforcementResponse struct {
	Meta struct {
		Results struct {
			Total int `json:"total"`
		} `json:"results"`
	} `json:"meta"`
	Results []enforcementResult `json:"results"`
}

type enforcementResult struct {
	ProductDescription  string `json:"product_description"`
	ReasonForRecall     string `json:"reason_for_recall"`
	Classification      string `json:"classification"`
	Status              string `json:"status"`
	RecallInitiationDat string `json:"recall_initiation_date"`
	RecallingFirm       string `json:"recalling_firm"`
}

// openFDAClient issues enforcement queries against the openFDA API.
type openFDAClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxResults int
}

func newOpenFDAClient(baseURL, apiKey string, timeout time.Duration, maxResults int) *openFDAClient {
	return &openFDAClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxResults: maxResults,
	}
}

// queryEnforcement searches one enforcement endpoint. A 404 from openFDA
// means "no matches", which is a valid empty result, not a failure.
func (c *openFDAClient) queryEnforcement(ctx context.Context, path, search string) (*enforcementResponse, error) {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid openFDA URL: %w", err)
	}

	params := url.Values{}
	params.Set("search", search)
	params.Set("limit", strconv.Itoa(c.maxResults))
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build openFDA request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openFDA request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return &enforcementResponse{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openFDA returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read openFDA response: %w", err)
	}

	var parsed enforcementResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse openFDA response: %w", err)
	}

	return &parsed, nil
}
