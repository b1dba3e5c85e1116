package metrics

import (
	"time"

	obserrors "github.com/socialsyncara/publish-worker/internal/observability/errors"
	"github.com/socialsyncara/publish-worker/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// PublishMetric captures details about one publish attempt for metric emission.
type PublishMetric struct {
	Platform string
	Status   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitPublish emits standardised publish attempt metrics.
func EmitPublish(sink statsd.Sink, in PublishMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"platform": in.Platform,
		"status":   in.Status,
		"result":   in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("publish.attempt", 1, tags)

	if in.Duration > 0 {
		sink.Timing("publish.duration", in.Duration, CloneTags(tags))
	}
}

// CycleMetric captures one worker cycle for metric emission.
type CycleMetric struct {
	Processed int
	Published int
	Failed    int
	Errors    int
	Duration  time.Duration
}

// EmitCycle emits standardised worker cycle metrics.
func EmitCycle(sink statsd.Sink, in CycleMetric) {
	if sink == nil {
		return
	}

	sink.Count("cycle.processed", int64(in.Processed), nil)
	sink.Count("cycle.published", int64(in.Published), nil)
	sink.Count("cycle.failed", int64(in.Failed), nil)
	sink.Count("cycle.errors", int64(in.Errors), nil)
	if in.Duration > 0 {
		sink.Timing("cycle.duration", in.Duration, nil)
	}
}

// EmitTokenRefresh emits a token refresh outcome.
func EmitTokenRefresh(sink statsd.Sink, platform, result string, err error) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"platform": platform,
		"result":   result,
	}
	if err != nil && result == ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("token.refresh", 1, tags)
}

// EmitRateLimitDeferral counts a post pushed back by admission control.
func EmitRateLimitDeferral(sink statsd.Sink, platform, reason string) {
	if sink == nil {
		return
	}
	sink.Count("ratelimit.deferred", 1, map[string]string{
		"platform": platform,
		"reason":   reason,
	})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
