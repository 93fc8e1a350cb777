package core

import (
	"context"
	"fmt"
	"net/http"

	"operlog-client/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const report_dispatcher_call = "dispatcher.call"

// Method is the closed set of http verbs the operlog api understands.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	case MethodPut:
		return http.MethodPut
	case MethodDelete:
		return http.MethodDelete
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Dispatcher sends authenticated requests, a 401 causes one token renewal and
// one retry. No call makes more than two requests.
type Dispatcher struct {
	http    *resty.Client
	session *Session
	tel     telemetry.API
}

func (d *Dispatcher) send(ctx context.Context, method Method, endpoint string, body any, token string) (*resty.Response, error) {
	req := d.http.R().
		SetContext(ctx).
		SetAuthToken(token)
	if body != nil {
		req.SetBody(body)
	}

	switch method {
	case MethodGet:
		return req.Get(endpoint)
	case MethodPost:
		return req.Post(endpoint)
	case MethodPut:
		return req.Put(endpoint)
	case MethodDelete:
		return req.Delete(endpoint)
	}
	panic(fmt.Sprintf("unreachable: unchecked method %s", method))
}

// Call performs the request and returns the response whatever its status,
// except for a 401 that survives renewal which becomes an AuthenticationError.
func (d *Dispatcher) Call(ctx context.Context, method Method, endpoint string, body any) (*resty.Response, error) {
	ctx, span := tracer.Start(ctx, "dispatcher:Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("method", method.String()),
		attribute.String("endpoint", endpoint),
	)

	if method < MethodGet || method > MethodDelete {
		return nil, fmt.Errorf("%w: unknown method %s", ErrInvalidArgument, method)
	}

	token := d.session.Token()
	if token == "" {
		return nil, &AuthenticationError{Reason: "session has no token, Bootstrap was not called"}
	}

	res, err := d.send(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, d.transportError(span, method, endpoint, err)
	}

	var renewErr error
	if res.StatusCode() == http.StatusUnauthorized {
		span.AddEvent("token rejected")
		var renewed string
		renewed, renewErr = d.session.renewFrom(ctx, token)
		if renewErr == nil {
			res, err = d.send(ctx, method, endpoint, body, renewed)
			if err != nil {
				return nil, d.transportError(span, method, endpoint, err)
			}
		}
	}

	if res.StatusCode() == http.StatusUnauthorized {
		err := &AuthenticationError{
			Reason: fmt.Sprintf("%s %s was rejected with 401", method, endpoint),
			Err:    renewErr,
		}
		d.tel.ReportBroken(report_dispatcher_call, err)
		span.SetStatus(codes.Error, "unauthorized")
		return nil, err
	}

	span.SetAttributes(attribute.Int("status", res.StatusCode()))
	return res, nil
}

func (d *Dispatcher) transportError(span trace.Span, method Method, endpoint string, err error) error {
	terr := &TransportError{Method: method, Endpoint: endpoint, Err: err}
	d.tel.ReportBroken(report_dispatcher_call, terr)
	span.RecordError(terr)
	span.SetStatus(codes.Error, "transport failure")
	return terr
}
