package Adhoc

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	iface "QrScanServer/interface"

	"github.com/go-resty/resty/v2"
)

const DetectPath = "/api/detect"

// DetectRequest is the JSON body of POST /api/detect. Data is base64 on the wire.
type DetectRequest struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Data     []byte `json:"data"`
}

type DetectedCode struct {
	Raw    string `json:"raw"`
	Format string `json:"format,omitempty"`
	Box    [4]int `json:"box"`
}

type DetectResponse struct {
	Success bool           `json:"success"`
	Backend string         `json:"backend,omitempty"`
	Message string         `json:"message,omitempty"`
	Results []DetectedCode `json:"results"`
}

func NewDetectRequest(img iface.ImageData) DetectRequest {
	return DetectRequest{Width: img.Width, Height: img.Height, Channels: img.Channels, Data: img.Data}
}

func (r DetectRequest) Image() iface.ImageData {
	return iface.ImageData{Data: r.Data, Width: r.Width, Height: r.Height, Channels: r.Channels}
}

func NewDetectedCode(c iface.Code) DetectedCode {
	return DetectedCode{
		Raw:    c.Raw,
		Format: c.Format,
		Box:    [4]int{c.Bounds.Min.X, c.Bounds.Min.Y, c.Bounds.Max.X, c.Bounds.Max.Y},
	}
}

func (d DetectedCode) Code() iface.Code {
	return iface.Code{Raw: d.Raw, Format: d.Format, Bounds: image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3])}
}

// Client is a Detector backed by a remote /api/detect endpoint.
type Client struct {
	client *resty.Client
	url    string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: resty.New().SetTimeout(timeout),
		url:    strings.TrimRight(baseURL, "/") + DetectPath,
	}
}

// Detect performs the request on its own goroutine.
func (c *Client) Detect(ctx context.Context, img iface.ImageData, done func([]iface.Code, error)) {
	go func() {
		done(c.DetectSync(ctx, img))
	}()
}

func (c *Client) DetectSync(ctx context.Context, img iface.ImageData) ([]iface.Code, error) {
	var respBody DetectResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(NewDetectRequest(img)).
		SetResult(&respBody).
		SetError(&respBody).
		Post(c.url)
	if err != nil {
		return nil, &iface.DetectionError{Backend: "http", Err: err}
	}
	backend := respBody.Backend
	if backend == "" {
		backend = "http"
	}
	if resp.IsError() {
		return nil, &iface.DetectionError{Backend: backend, Err: fmt.Errorf("server returned %s: %s", resp.Status(), respBody.Message)}
	}
	if !respBody.Success {
		return nil, &iface.DetectionError{Backend: backend, Err: fmt.Errorf("%s", respBody.Message)}
	}
	found := make([]iface.Code, 0, len(respBody.Results))
	for _, r := range respBody.Results {
		found = append(found, r.Code())
	}
	return found, nil
}
