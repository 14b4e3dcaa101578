package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"
)

const (
	featureDocumentText = "DOCUMENT_TEXT_DETECTION"
	defaultTimeout      = 20 * time.Second
	maxInlineImageBytes = 10 << 20
	gcsURIPrefix        = "gs://"
)

var (
	// ErrNoText is returned when the image contains no readable text.
	ErrNoText = errors.New("vision: no text detected")
	// ErrInvalidImage is returned when neither a GCS URI nor inline content is supplied.
	ErrInvalidImage = errors.New("vision: invalid image reference")
)

// Config controls how the Cloud Vision client is built.
type Config struct {
	APIKey        string
	Endpoint      string
	Timeout       time.Duration
	LanguageHints []string
}

// Image identifies the picture to annotate. Exactly one field must be set.
type Image struct {
	GCSURI  string
	Content []byte
}

// Text is the OCR output for one image.
type Text struct {
	FullText string
	Locale   string
}

// Client performs document text detection through the Cloud Vision REST API.
type Client struct {
	svc     *visionapi.Service
	hints   []string
	timeout time.Duration
}

// New constructs a client. Without an API key the application default credentials are used.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	clientOpts := make([]option.ClientOption, 0, len(opts)+2)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := visionapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("vision: create service: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hints := make([]string, 0, len(cfg.LanguageHints))
	for _, hint := range cfg.LanguageHints {
		if hint = strings.TrimSpace(hint); hint != "" {
			hints = append(hints, hint)
		}
	}
	return &Client{svc: svc, hints: hints, timeout: timeout}, nil
}

// DetectText runs DOCUMENT_TEXT_DETECTION and returns the full text block.
func (c *Client) DetectText(ctx context.Context, img Image) (Text, error) {
	source, err := c.imageFor(img)
	if err != nil {
		return Text{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := &visionapi.AnnotateImageRequest{
		Image:    source,
		Features: []*visionapi.Feature{{Type: featureDocumentText}},
	}
	if len(c.hints) > 0 {
		request.ImageContext = &visionapi.ImageContext{LanguageHints: c.hints}
	}

	resp, err := c.svc.Images.Annotate(&visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{request},
	}).Context(ctx).Do()
	if err != nil {
		return Text{}, fmt.Errorf("vision: annotate: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return Text{}, ErrNoText
	}

	result := resp.Responses[0]
	if result.Error != nil && result.Error.Code != 0 {
		return Text{}, fmt.Errorf("vision: annotate failed (code %d): %s", result.Error.Code, result.Error.Message)
	}

	var out Text
	if result.FullTextAnnotation != nil {
		out.FullText = result.FullTextAnnotation.Text
	}
	if len(result.TextAnnotations) > 0 && result.TextAnnotations[0] != nil {
		if out.FullText == "" {
			out.FullText = result.TextAnnotations[0].Description
		}
		out.Locale = result.TextAnnotations[0].Locale
	}
	if strings.TrimSpace(out.FullText) == "" {
		return Text{}, ErrNoText
	}
	return out, nil
}

func (c *Client) imageFor(img Image) (*visionapi.Image, error) {
	uri := strings.TrimSpace(img.GCSURI)
	switch {
	case uri != "" && len(img.Content) > 0:
		return nil, ErrInvalidImage
	case uri != "":
		if !strings.HasPrefix(uri, gcsURIPrefix) {
			return nil, ErrInvalidImage
		}
		return &visionapi.Image{Source: &visionapi.ImageSource{GcsImageUri: uri}}, nil
	case len(img.Content) > 0:
		if len(img.Content) > maxInlineImageBytes {
			return nil, ErrInvalidImage
		}
		return &visionapi.Image{Content: base64.StdEncoding.EncodeToString(img.Content)}, nil
	default:
		return nil, ErrInvalidImage
	}
}
