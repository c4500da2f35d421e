package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/utils"
)

// HTTPRateSource fetches the current rate from the oracle feed over HTTP.
// The feed answers GET <url> with {"rate": <int64>, "updated_at": <unix>}.
type HTTPRateSource struct {
	url    string
	client *http.Client
	logger *logger.Logger
}

func NewHTTPRateSource(url string, client *http.Client, log *logger.Logger) *HTTPRateSource {
	return &HTTPRateSource{url: url, client: client, logger: log}
}

func (s *HTTPRateSource) LatestRate(ctx context.Context) (Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("ORACLE", fmt.Sprintf("Rate feed error: %v", err))
		return Rate{}, fmt.Errorf("oracle feed error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			s.logger.Error("ORACLE", fmt.Sprintf("Failed to close feed response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("ORACLE", fmt.Sprintf("Rate feed returned status: %d", resp.StatusCode))
		return Rate{}, fmt.Errorf("oracle feed returned status: %d", resp.StatusCode)
	}

	var payload struct {
		Rate      int64 `json:"rate"`
		UpdatedAt int64 `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.logger.Error("ORACLE", fmt.Sprintf("Failed to decode feed response: %v", err))
		return Rate{}, fmt.Errorf("failed to decode feed response: %w", err)
	}
	if payload.Rate <= 0 {
		return Rate{}, ErrInvalidRate
	}

	rate := Rate{Value: payload.Rate, ObservedAt: utils.UnixTimeToTime(payload.UpdatedAt)}
	s.logger.Debug("ORACLE", fmt.Sprintf("Fetched rate %d observed at %s", rate.Value, rate.ObservedAt))
	return rate, nil
}
