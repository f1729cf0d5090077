package grpcclient

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName     = "idverify.ocr.v1.TextRecognizer"
	recognizeMethod = "/" + serviceName + "/Recognize"
	languagesHeader = "x-ocr-languages"
)

// TextRecognizerServer is implemented by recognition services. The request is
// a PNG image and the response the recognised text.
type TextRecognizerServer interface {
	Recognize(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
}

// TextRecognizerServiceDesc describes the recognition service for
// grpc.Server.RegisterService.
var TextRecognizerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TextRecognizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Recognize", Handler: recognizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "idverify/ocr/v1/recognizer.proto",
}

// RegisterTextRecognizerServer registers srv on s.
func RegisterTextRecognizerServer(s grpc.ServiceRegistrar, srv TextRecognizerServer) {
	s.RegisterService(&TextRecognizerServiceDesc, srv)
}

// LanguagesFromContext returns the recognition languages a client requested.
func LanguagesFromContext(ctx context.Context) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	values := md.Get(languagesHeader)
	if len(values) == 0 || values[0] == "" {
		return nil
	}
	return strings.Split(values[0], "+")
}

func recognizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TextRecognizerServer).Recognize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: recognizeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TextRecognizerServer).Recognize(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
