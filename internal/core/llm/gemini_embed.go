package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const defaultGeminiModel = "text-embedding-004"

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiEmbedder embeds chunk texts through BatchEmbedContents, tagged as
// retrieval documents.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	name := cfg.Model
	if name == "" {
		name = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := client.EmbeddingModel(name)
	model.TaskType = genai.TaskTypeRetrievalDocument

	return &GeminiEmbedder{client: client, model: model}, nil
}

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}

func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := g.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := g.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, geminiError(err)
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, &core.EmbeddingServiceError{Err: fmt.Errorf("gemini returned no values for item %d", i)}
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

// geminiError carries the API's status and message into the service error.
// The gRPC transport reports no HTTP code, so one is derived from the status.
func geminiError(err error) *core.EmbeddingServiceError {
	out := &core.EmbeddingServiceError{Err: fmt.Errorf("gemini batch embed: %w", err)}

	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		var ok bool
		if apiErr, ok = apierror.FromError(err); !ok {
			return out
		}
	}
	out.Body = apiErr.Error()
	out.StatusCode = apiErr.HTTPCode()
	if out.StatusCode < 0 && apiErr.GRPCStatus() != nil {
		st := apiErr.GRPCStatus()
		out.StatusCode = httpStatus(st.Code(), st.Message())
	}
	return out
}

func httpStatus(code codes.Code, msg string) int {
	switch code {
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(msg), "payload size exceeds") {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
