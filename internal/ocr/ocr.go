// Package ocr connects to an external text-extraction service used to
// read voucher codes off scratch-card photos.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned when no OCR backend is configured.
var ErrDisabled = errors.New("ocr: not configured")

// TextExtractor produces raw text from an image. The caller applies its
// own voucher-code extraction to the result.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Disabled is the extractor used when no OCR key is configured. Photo
// submissions fail with a clear error instead of a network timeout.
type Disabled struct{}

func (Disabled) ExtractText(_ context.Context, _ []byte) (string, error) {
	return "", ErrDisabled
}

const spaceEndpoint = "https://api.ocr.space/parse/image"

// SpaceClient extracts text through the OCR.space parse API.
type SpaceClient struct {
	rest   *resty.Client
	apiKey string
}

// NewSpaceClient builds an extractor backed by OCR.space. Arabic is
// requested so the secret-number label on cards survives recognition.
func NewSpaceClient(apiKey string, timeout time.Duration) *SpaceClient {
	rest := resty.New().
		SetBaseURL(spaceEndpoint).
		SetTimeout(timeout)
	return &SpaceClient{rest: rest, apiKey: apiKey}
}

type spaceResult struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool     `json:"IsErroredOnProcessing"`
	ErrorMessage          []string `json:"ErrorMessage"`
}

// ExtractText uploads the image as a base64 payload and returns the
// recognized text of the first result.
func (c *SpaceClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	var result spaceResult
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apikey":            c.apiKey,
			"base64Image":       encoded,
			"language":          "ara",
			"scale":             "true",
			"OCREngine":         "2",
			"detectOrientation": "true",
		}).
		SetResult(&result).
		Post("")
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ocr request: status %d", resp.StatusCode())
	}
	if result.IsErroredOnProcessing {
		if len(result.ErrorMessage) > 0 {
			return "", fmt.Errorf("ocr processing: %s", result.ErrorMessage[0])
		}
		return "", errors.New("ocr processing failed")
	}
	if len(result.ParsedResults) == 0 {
		return "", errors.New("ocr returned no results")
	}
	return result.ParsedResults[0].ParsedText, nil
}
