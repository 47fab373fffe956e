package proto

import (
	"context"
	"time"

	iface "QrScanServer/interface"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a Detector backed by a remote DetectService.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to a DetectService without transport security.
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Detect runs Inference on its own goroutine and reports through done.
func (c *Client) Detect(ctx context.Context, img iface.ImageData, done func([]iface.Code, error)) {
	go func() {
		done(c.Inference(ctx, img))
	}()
}

// Inference sends img and waits for the detector's answer.
func (c *Client) Inference(ctx context.Context, img iface.ImageData) ([]iface.Code, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp := new(structpb.Struct)
	err := c.conn.Invoke(outgoingImageContext(ctx, img), InferenceMethod, wrapperspb.Bytes(img.Data), resp)
	if err != nil {
		return nil, &iface.DetectionError{Backend: "grpc", Err: err}
	}
	return decodeResults(resp)
}

// CheckEngine returns the remote engine description.
func (c *Client) CheckEngine(ctx context.Context) (map[string]interface{}, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, CheckEngineMethod, &emptypb.Empty{}, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
