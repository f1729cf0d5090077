package grpcclient

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ocr"
)

type fakeRecognizer struct {
	text      string
	err       error
	languages []string
	imageLen  int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	f.languages = LanguagesFromContext(ctx)
	f.imageLen = len(in.GetValue())
	if f.err != nil {
		return nil, f.err
	}
	return wrapperspb.String(f.text), nil
}

func startRecognizer(t *testing.T, srv TextRecognizerServer) ocr.Engine {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterTextRecognizerServer(server, srv)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	engine, conn, err := DialOCREngine(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return engine
}

func TestRecognizeRoundTrip(t *testing.T) {
	fake := &fakeRecognizer{text: "6477 7450 9944"}
	engine := startRecognizer(t, fake)

	text, err := engine.Recognize(context.Background(), []byte("png-bytes"), []string{"eng", "hin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "6477 7450 9944" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(fake.languages) != 2 || fake.languages[1] != "hin" {
		t.Fatalf("unexpected languages %v", fake.languages)
	}
	if fake.imageLen != len("png-bytes") {
		t.Fatalf("unexpected image length %d", fake.imageLen)
	}
}

func TestRecognizeWrapsServerErrors(t *testing.T) {
	engine := startRecognizer(t, &fakeRecognizer{err: status.Error(codes.Unavailable, "model loading")})

	_, err := engine.Recognize(context.Background(), []byte("png"), []string{"eng"})
	if !errors.Is(err, ocr.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "grpcclient.recognize" {
		t.Fatalf("expected OperationError, got %v", err)
	}

	engine = startRecognizer(t, &fakeRecognizer{err: status.Error(codes.InvalidArgument, "bad image")})
	_, err = engine.Recognize(context.Background(), []byte("png"), []string{"eng"})
	if err == nil || errors.Is(err, ocr.ErrEngineUnavailable) {
		t.Fatalf("expected plain failure, got %v", err)
	}
}

func TestRemoteEngineDegradesInsideExtractor(t *testing.T) {
	engine := startRecognizer(t, &fakeRecognizer{err: status.Error(codes.Internal, "crash")})
	extractor := ocr.NewExtractor(engine, ocr.Config{}, zap.NewNop())

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	res, err := extractor.Extract(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != (ocr.Result{}) {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
