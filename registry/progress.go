package registry

import "context"

// ProgressReporter lets long-running tool handlers emit interim
// progress updates while a call is still executing. Updates flow to the
// client before the final response on the same stream.
type ProgressReporter interface {
	// Report sends a progress update. progress should increase across
	// calls; total may be zero when unknown. message carries free-form
	// status text shown to the user.
	Report(ctx context.Context, progress, total float64, message string) error
}

type progressKey struct{}

// WithProgressReporter attaches a ProgressReporter to the context of a
// tool invocation.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom extracts the ProgressReporter from ctx. It returns false
// when the request carried no progress token.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	pr, ok := ctx.Value(progressKey{}).(ProgressReporter)
	return pr, ok
}
