package llm

import "context"

type taskKey struct{}
type temperatureKey struct{}
type maxTokensKey struct{}

// WithTask tags the context with a short task label ("belief_eval",
// "safety_classify", ...). Clients use it for logging and the fake client
// dispatches canned payloads on it.
func WithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, taskKey{}, task)
}

// TaskFrom returns the task label, or "" when untagged.
func TaskFrom(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTemperature overrides the sampling temperature for calls made under ctx.
func WithTemperature(ctx context.Context, t float32) context.Context {
	return context.WithValue(ctx, temperatureKey{}, t)
}

// TemperatureFrom returns the per-call temperature override, if any.
func TemperatureFrom(ctx context.Context) (float32, bool) {
	v, ok := ctx.Value(temperatureKey{}).(float32)
	return v, ok
}

// WithMaxTokens overrides the output token cap for calls made under ctx.
func WithMaxTokens(ctx context.Context, n int32) context.Context {
	return context.WithValue(ctx, maxTokensKey{}, n)
}

// MaxTokensFrom returns the per-call token cap override, if any.
func MaxTokensFrom(ctx context.Context) (int32, bool) {
	v, ok := ctx.Value(maxTokensKey{}).(int32)
	return v, ok
}
