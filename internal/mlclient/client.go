// Package mlclient is the request/response boundary to the external ML
// prediction service. Only orchestration calls it; the engines never do.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rmonteiro-dev/tapeflow/internal/config"
	"github.com/rmonteiro-dev/tapeflow/pkg/models"
)

// Request is the snapshot of market state sent for prediction.
type Request struct {
	MarketSnapshot    MarketSnapshot     `json:"marketSnapshot"`
	RecentTapeEntries []models.TapeEntry `json:"recentTapeEntries"`
	OrderFlowSummary  OrderFlowSummary   `json:"orderFlowSummary"`
}

// MarketSnapshot summarizes the instrument at prediction time.
type MarketSnapshot struct {
	Symbol string             `json:"symbol"`
	Price  float64            `json:"price"`
	State  models.MarketState `json:"state"`
}

// OrderFlowSummary condenses the tape engine's level and cluster state.
type OrderFlowSummary struct {
	TopLevels     []models.PriceLevel    `json:"topLevels"`
	VolumeProfile []models.VolumeCluster `json:"volumeProfile"`
}

// Prediction is the service's trading signal.
type Prediction struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	StopLoss   float64 `json:"stopLoss"`
	Target     float64 `json:"target"`
	Reasoning  string  `json:"reasoning"`
}

// Client talks to the prediction service over HTTP.
type Client struct {
	cfg    config.MLConfig
	client *http.Client
}

// NewClient creates a prediction client with the configured timeout.
func NewClient(cfg config.MLConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Predict posts the request and decodes the prediction.
func (c *Client) Predict(ctx context.Context, req Request) (*Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prediction service returned %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &pred, nil
}
