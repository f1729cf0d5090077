// Package grpcclient connects the OCR stage to a remote text recognition
// service over gRPC.
package grpcclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ocr"
)

// DialOCREngine returns a ready-to-use OCR engine backed by the recognizer at
// addr. Extra dial options are appended after the defaults.
func DialOCREngine(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (ocr.Engine, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_text_recognizer", "", err)
		logger.Error("failed to dial text recognizer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewOCREngine(conn, logger), conn, nil
}

// NewOCREngine wraps an existing connection.
func NewOCREngine(conn grpc.ClientConnInterface, logger *zap.Logger) ocr.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &grpcOCREngine{conn: conn, logger: logger.Named("grpc_ocr")}
}

type grpcOCREngine struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcOCREngine) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, languagesHeader, strings.Join(languages, "+"))

	out := new(wrapperspb.StringValue)
	if err := g.conn.Invoke(ctx, recognizeMethod, wrapperspb.Bytes(image), out); err != nil {
		if status.Code(err) == codes.Unavailable {
			err = fmt.Errorf("%w: %v", ocr.ErrEngineUnavailable, err)
		}
		wrapped := logging.NewOperationError("grpcclient.recognize", "", err)
		g.logger.Warn("text recognizer call failed", zap.Error(wrapped), zap.Int("image_bytes", len(image)))
		return "", wrapped
	}
	return out.GetValue(), nil
}
