package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is running and the embedding model is
// available, pulling it when missing. Progress goes to w. A trial embedding
// loads the model so the first user query does not pay the cold start.
func EnsureReady(ctx context.Context, c *Client, embedModel string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}

	if c.HasModel(ctx, embedModel) {
		fmt.Fprintf(w, "model %s: ready\n", embedModel)
	} else {
		fmt.Fprintf(w, "model %s: pulling...\n", embedModel)
		err := c.PullModel(ctx, embedModel, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
				return
			}
			fmt.Fprintf(w, "  %s\n", p.Status)
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", embedModel, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", embedModel)
	}

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Embed(warmCtx, embedModel, "warm up"); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", embedModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", embedModel)
	}
	return nil
}
