// Package intake talks to the sample reception service that owns sample
// sheets.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

const (
	defaultTimeout = 10 * time.Second
	samplePath     = "/samples/{id}"
)

// Config points the client at the reception API.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
}

// Client implements core.SampleIntake over HTTP.
type Client struct {
	http *resty.Client
}

type apiError struct {
	Error string `json:"error"`
}

// NewClient configures a resty client for cfg. Server errors and transport
// failures are retried cfg.Retries times.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("intake base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(max(cfg.Retries, 0)).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}
	return &Client{http: rc}, nil
}

// Sample fetches the sheet for sampleID. An unknown sample is a NotFound
// domain error.
func (c *Client) Sample(ctx context.Context, sampleID string) (core.SampleSheet, error) {
	sampleID = strings.TrimSpace(sampleID)
	if sampleID == "" {
		return core.SampleSheet{}, domain.Invalid("intake_sample", "sample id is required")
	}
	var sheet core.SampleSheet
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", sampleID).
		SetResult(&sheet).
		SetError(&apiErr).
		Get(samplePath)
	if err != nil {
		return core.SampleSheet{}, fmt.Errorf("intake sample %s: %w", sampleID, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return core.SampleSheet{}, domain.NotFound("intake_sample", domain.EntityAnalysis, sampleID)
	case resp.IsError():
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return core.SampleSheet{}, fmt.Errorf("intake sample %s: status %d: %s", sampleID, resp.StatusCode(), msg)
	}
	if sheet.SampleID == "" {
		sheet.SampleID = sampleID
	}
	return sheet, nil
}

// Exists reports whether reception still knows sampleID.
func (c *Client) Exists(ctx context.Context, sampleID string) (bool, error) {
	_, err := c.Sample(ctx, sampleID)
	if err == nil {
		return true, nil
	}
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	return false, err
}
