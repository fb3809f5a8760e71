package generation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/core"
	"github.com/husainf4l/rolevatev7/pkg/generation/gemini"
	"github.com/husainf4l/rolevatev7/pkg/generation/openai"
)

// Factory builds providers by name.
type Factory struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New constructs the named provider. An empty model selects the provider's
// default. ctx is used only by providers whose client setup needs it.
func (f Factory) New(ctx context.Context, providerName, apiKey, model string) (Provider, error) {
	switch providerName {
	case "openai":
		opts := []openai.Option{}
		if f.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(f.HTTPClient))
		}
		if f.Logger != nil {
			opts = append(opts, openai.WithLogger(f.Logger))
		}
		if model != "" {
			opts = append(opts, openai.WithModel(model))
		}
		return openai.New(apiKey, opts...), nil
	case "gemini":
		opts := []gemini.Option{}
		if f.Logger != nil {
			opts = append(opts, gemini.WithLogger(f.Logger))
		}
		if model != "" {
			opts = append(opts, gemini.WithModel(model))
		}
		return gemini.New(ctx, apiKey, opts...)
	default:
		return nil, core.NewValidationErrorWithParam("unknown generation provider: "+providerName, "provider")
	}
}
