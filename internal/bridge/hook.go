package bridge

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
)

// ForwardHook posts the hook input read from in to the server's hook
// endpoint for event and copies the hook output to out.
func ForwardHook(ctx context.Context, cfg Config, event string, in io.Reader, out io.Writer) error {
	if !slices.Contains(engine.HookEvents, event) {
		return fmt.Errorf("unknown hook event %q", event)
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading hook input: %w", err)
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	resp, err := cfg.post(ctx, "/hooks/"+event, body)
	if err != nil {
		return err
	}
	if _, err := out.Write(resp); err != nil {
		return fmt.Errorf("writing hook output: %w", err)
	}
	return nil
}
