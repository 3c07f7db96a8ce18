package context

import (
	stdcontext "context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type customerIDKey struct{}

type actor struct {
	actorType string
	actorID   string
}

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return stdcontext.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithActor(ctx stdcontext.Context, actorType, actorID string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return stdcontext.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx stdcontext.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

func WithCustomerID(ctx stdcontext.Context, customerID string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return stdcontext.WithValue(ctx, customerIDKey{}, strings.TrimSpace(customerID))
}

func CustomerIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(customerIDKey{}).(string)
	return value
}

type deliveryIDKey struct{}
type jobKey struct{}

type job struct {
	name  string
	runID string
}

func WithDeliveryID(ctx stdcontext.Context, deliveryID string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return stdcontext.WithValue(ctx, deliveryIDKey{}, strings.TrimSpace(deliveryID))
}

func DeliveryIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(deliveryIDKey{}).(string)
	return value
}

// WithJob tags ctx with the scheduler job being run and its run id.
func WithJob(ctx stdcontext.Context, name, runID string) stdcontext.Context {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	return stdcontext.WithValue(ctx, jobKey{}, job{
		name:  strings.TrimSpace(name),
		runID: strings.TrimSpace(runID),
	})
}

func JobFromContext(ctx stdcontext.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(jobKey{}).(job)
	if !ok {
		return "", ""
	}
	return value.name, value.runID
}
