package vlm

import (
	"context"
	"log/slog"
)

// StubInferenceClient is the test-mode inference client: it returns a canned
// well-formed reply without calling any model, keeping local development and
// integration tests independent of a GPU deployment.
type StubInferenceClient struct {
	logger *slog.Logger
}

// NewStubInferenceClient creates a stub client.
func NewStubInferenceClient(logger *slog.Logger) *StubInferenceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubInferenceClient{logger: logger}
}

// Complete returns a canned analysis reply.
func (s *StubInferenceClient) Complete(ctx context.Context, prompt string, images [][]byte) (string, error) {
	s.logger.InfoContext(ctx, "serving stub VLM reply",
		slog.String("mode", "stub"),
		slog.Int("image_count", len(images)),
	)
	return `{
		"traffic_summary": "Traffic is flowing normally through the intersection with light vehicle and pedestrian activity.",
		"alerts": [],
		"recommendations": ["No operator action required."]
	}`, nil
}

var _ InferenceClient = (*StubInferenceClient)(nil)
