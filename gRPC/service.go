package proto

import (
	"context"
	"fmt"
	"image"
	"strconv"

	iface "QrScanServer/interface"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service carries raw pixels in a BytesValue and image geometry in
// request metadata, so no generated message types are needed.
const (
	ServiceName       = "qrscan.DetectService"
	InferenceMethod   = "/qrscan.DetectService/Inference"
	CheckEngineMethod = "/qrscan.DetectService/CheckEngine"

	mdWidth    = "x-image-width"
	mdHeight   = "x-image-height"
	mdChannels = "x-image-channels"
)

type DetectServiceServer interface {
	Inference(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error)
	CheckEngine(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var DetectService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Inference", Handler: _DetectService_Inference_Handler},
		{MethodName: "CheckEngine", Handler: _DetectService_CheckEngine_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qrscan/detect.proto",
}

func RegisterDetectServiceServer(s grpc.ServiceRegistrar, srv DetectServiceServer) {
	s.RegisterService(&DetectService_ServiceDesc, srv)
}

func _DetectService_Inference_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Inference(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InferenceMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectServiceServer).Inference(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_CheckEngine_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckEngineMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func outgoingImageContext(ctx context.Context, img iface.ImageData) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		mdWidth, strconv.Itoa(img.Width),
		mdHeight, strconv.Itoa(img.Height),
		mdChannels, strconv.Itoa(img.Channels),
	)
}

func incomingImage(ctx context.Context, req *wrapperspb.BytesValue) (iface.ImageData, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	get := func(key string) (int, error) {
		vals := md.Get(key)
		if len(vals) == 0 {
			return 0, status.Errorf(codes.InvalidArgument, "missing %s metadata", key)
		}
		n, err := strconv.Atoi(vals[0])
		if err != nil || n <= 0 {
			return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", key, vals[0])
		}
		return n, nil
	}
	w, err := get(mdWidth)
	if err != nil {
		return iface.ImageData{}, err
	}
	h, err := get(mdHeight)
	if err != nil {
		return iface.ImageData{}, err
	}
	c, err := get(mdChannels)
	if err != nil {
		return iface.ImageData{}, err
	}
	img := iface.ImageData{Data: req.GetValue(), Width: w, Height: h, Channels: c}
	if len(img.Data) != w*h*c {
		return iface.ImageData{}, status.Errorf(codes.InvalidArgument, "image data is %d bytes, want %d", len(img.Data), w*h*c)
	}
	return img, nil
}

func encodeResults(backend string, found []iface.Code) (*structpb.Struct, error) {
	results := make([]interface{}, 0, len(found))
	for _, c := range found {
		results = append(results, map[string]interface{}{
			"raw":    c.Raw,
			"format": c.Format,
			"box":    []interface{}{c.Bounds.Min.X, c.Bounds.Min.Y, c.Bounds.Max.X, c.Bounds.Max.Y},
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"success": true,
		"backend": backend,
		"results": results,
	})
}

func encodeFailure(backend string, err error) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"success": false,
		"backend": backend,
		"message": err.Error(),
		"results": []interface{}{},
	})
}

func decodeResults(resp *structpb.Struct) ([]iface.Code, error) {
	fields := resp.GetFields()
	backend := fields["backend"].GetStringValue()
	if backend == "" {
		backend = "grpc"
	}
	if !fields["success"].GetBoolValue() {
		return nil, &iface.DetectionError{Backend: backend, Err: fmt.Errorf("%s", fields["message"].GetStringValue())}
	}
	values := fields["results"].GetListValue().GetValues()
	found := make([]iface.Code, 0, len(values))
	for i, v := range values {
		item := v.GetStructValue().GetFields()
		box := item["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, &iface.DetectionError{Backend: backend, Err: fmt.Errorf("result %d: box has %d values", i, len(box))}
		}
		found = append(found, iface.Code{
			Raw:    item["raw"].GetStringValue(),
			Format: item["format"].GetStringValue(),
			Bounds: image.Rect(
				int(box[0].GetNumberValue()), int(box[1].GetNumberValue()),
				int(box[2].GetNumberValue()), int(box[3].GetNumberValue()),
			),
		})
	}
	return found, nil
}
