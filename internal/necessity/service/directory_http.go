package service

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

// HTTPDirectory resolves schools and products against the directory
// service.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(cfg config.Directory) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (d *HTTPDirectory) School(ctx context.Context, schoolID id.SchoolID) (SchoolInfo, error) {
	var info SchoolInfo
	url := fmt.Sprintf("%s/schools/%s", d.baseURL, schoolID)
	if err := d.getJSON(ctx, url, &info); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return SchoolInfo{}, dErrors.Newf(dErrors.CodeNotFound, "school %s not found in directory", schoolID)
		}
		return SchoolInfo{}, err
	}
	return info, nil
}

func (d *HTTPDirectory) Product(ctx context.Context, productID id.ProductID) (ProductInfo, error) {
	var info ProductInfo
	url := fmt.Sprintf("%s/products/%s", d.baseURL, productID)
	if err := d.getJSON(ctx, url, &info); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return ProductInfo{}, dErrors.Newf(dErrors.CodeNotFound, "product %s not found in directory", productID)
		}
		return ProductInfo{}, err
	}
	return info, nil
}

func (d *HTTPDirectory) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build directory request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "call directory")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, "not found")
	default:
		return dErrors.Newf(dErrors.CodeInternal, "directory returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode directory response")
	}
	return nil
}
