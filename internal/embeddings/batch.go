package embeddings

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// EmbedAll embeds texts with at most workers concurrent calls. Results and
// errors are aligned with texts; a failure in one slot does not stop the
// others. Blank texts get an empty vector and no backend call.
func EmbedAll(ctx context.Context, svc Service, texts []string, workers int) ([]Vector, []error) {
	vectors := make([]Vector, len(texts))
	errs := make([]error, len(texts))
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, text := range texts {
		if IsBlank(text) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			vectors[i], errs[i] = svc.Embed(ctx, text)
			return nil
		})
	}
	_ = g.Wait()

	return vectors, errs
}
