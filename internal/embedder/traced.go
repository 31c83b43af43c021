package embedder

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	template "github.com/cloudwego/eino/utils/callbacks"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// Traced reports every embedding call to eino callback handlers as a run of
// an Embedding component. Errors from the wrapped embedder pass through
// unchanged, so retry classification still applies.
type Traced struct {
	inner    rag.Embedder
	info     *callbacks.RunInfo
	config   *embedding.Config
	handlers []callbacks.Handler
}

// NewTraced wraps inner. With no handlers inner is returned as is.
func NewTraced(inner rag.Embedder, provider, model string, handlers ...callbacks.Handler) rag.Embedder {
	if len(handlers) == 0 {
		return inner
	}
	return &Traced{
		inner: inner,
		info: &callbacks.RunInfo{
			Name:      provider + "/" + model,
			Type:      provider,
			Component: components.ComponentOfEmbedding,
		},
		config:   &embedding.Config{Model: model},
		handlers: handlers,
	}
}

// Dimensions returns the wrapped embedder's output size.
func (t *Traced) Dimensions() int { return t.inner.Dimensions() }

// Embed runs the wrapped embedder between OnStart and OnEnd (or OnError).
// Vectors are not copied into the callback output; handlers see their count
// and size in Extra.
func (t *Traced) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx = callbacks.InitCallbacks(ctx, t.info, t.handlers...)
	ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{Texts: texts, Config: t.config})

	vecs, err := t.inner.Embed(ctx, texts)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	callbacks.OnEnd(ctx, &embedding.CallbackOutput{
		Config: t.config,
		Extra: map[string]any{
			"vectors":    len(vecs),
			"dimensions": t.inner.Dimensions(),
		},
	})
	return vecs, nil
}

type callStartKey struct{}

type callStart struct {
	at    time.Time
	texts int
}

// LogHandler logs each embedding call at debug level, and failed calls at
// warn, through the logger carried in the call's context.
func LogHandler() callbacks.Handler {
	return template.NewHandlerHelper().Embedding(&template.EmbeddingCallbackHandler{
		OnStart: func(ctx context.Context, _ *callbacks.RunInfo, in *embedding.CallbackInput) context.Context {
			n := 0
			if in != nil {
				n = len(in.Texts)
			}
			return context.WithValue(ctx, callStartKey{}, callStart{at: time.Now(), texts: n})
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, _ *embedding.CallbackOutput) context.Context {
			logging.FromContext(ctx).Debug("embedding call", callAttrs(ctx, info)...)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			attrs := append(callAttrs(ctx, info), slog.Any("error", err))
			logging.FromContext(ctx).Warn("embedding call failed", attrs...)
			return ctx
		},
	}).Handler()
}

func callAttrs(ctx context.Context, info *callbacks.RunInfo) []any {
	attrs := []any{}
	if info != nil {
		attrs = append(attrs, slog.String("embedder", info.Name))
	}
	if s, ok := ctx.Value(callStartKey{}).(callStart); ok {
		attrs = append(attrs,
			slog.Int("texts", s.texts),
			slog.Duration("duration", time.Since(s.at)),
		)
	}
	return attrs
}
