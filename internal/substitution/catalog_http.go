package substitution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"merenda/internal/platform/config"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
)

// HTTPCatalog fetches substitution candidates from the product catalog
// service.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCatalog(cfg config.Catalog) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPCatalog) ListCandidates(ctx context.Context, originProductID id.ProductID) ([]Candidate, error) {
	url := fmt.Sprintf("%s/products/%s/substitution-candidates", c.baseURL, originProductID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build catalog request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "call product catalog")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, dErrors.Newf(dErrors.CodeNotFound, "product %s not found in catalog", originProductID)
	default:
		return nil, dErrors.Newf(dErrors.CodeInternal, "product catalog returned status %d", resp.StatusCode)
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode catalog response")
	}
	return candidates, nil
}
