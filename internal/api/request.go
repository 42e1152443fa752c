package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// doRequest performs one HTTP request against a fully-built candidate URL.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.tryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doLadder walks the candidate ladder strictly in order. The first success
// short-circuits; a per-candidate failure (including timeout) advances to
// the next candidate. All candidates failing yields one *LadderError.
func (c *Client) doLadder(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	candidates, err := Candidates(c.baseURL, path)
	if err != nil {
		return nil, err
	}

	ladderErr := &LadderError{Path: path}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		body, err := c.doRequest(ctx, method, candidate, query)
		if err == nil {
			return body, nil
		}

		c.logger.Debug("candidate failed, advancing ladder",
			"url", candidate,
			"error", err,
		)
		ladderErr.Attempts = append(ladderErr.Attempts, Attempt{URL: candidate, Err: err})
	}

	return nil, ladderErr
}

// Get performs a GET through the ladder and unmarshals the response.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doLadder(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// GetQuotes fetches a current quote snapshot for the given tickers. The
// payload stays a raw key/value form here: the normalizer is the single
// boundary that interprets upstream field names.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]map[string]any, error) {
	query := url.Values{}
	if len(symbols) > 0 {
		query.Set("symbols", strings.Join(symbols, ","))
	}

	var quotes []map[string]any
	if err := c.Get(ctx, "/marketdata/quotes", query, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}
