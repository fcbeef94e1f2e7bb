package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homespark/harvester/internal/config"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

var ErrEmptyEmbedding = errors.New("embedding service returned no values")

// Embedder turns listing text into a vector for the similarity index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type geminiEmbedder struct {
	httpClient *resty.Client
	model      string
	apiKey     string
	dimensions int
}

type embedContentRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &geminiEmbedder{
		httpClient: client,
		model:      strings.TrimPrefix(cfg.Model, "models/"),
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
	}
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embedContentResponse
	var failure apiError

	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetPathParam("model", e.model).
		SetQueryParam("key", e.apiKey).
		SetBody(embedContentRequest{
			Model:    "models/" + e.model,
			Content:  content{Parts: []part{{Text: text}}},
			TaskType: "RETRIEVAL_DOCUMENT",
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/v1beta/models/{model}:embedContent")
	if err != nil {
		return nil, fmt.Errorf("failed to request embedding: %w", err)
	}

	if resp.IsError() {
		if failure.Error.Message != "" {
			return nil, fmt.Errorf("embedding request failed with %s: %s", resp.Status(), failure.Error.Message)
		}
		return nil, fmt.Errorf("embedding request failed with %s", resp.Status())
	}

	values := result.Embedding.Values
	if len(values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if e.dimensions > 0 && len(values) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(values), e.dimensions)
	}

	log.Debugf("🧮 Embedded %d characters into %d dimensions", len(text), len(values))
	return values, nil
}
