package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"
)

const (
	// TokenHeader is the header name for the client authentication token.
	TokenHeader = "X-Audio-Token"
)

// TokenInterceptor validates the client token on unary and streaming calls.
type TokenInterceptor struct {
	token []byte
}

var _ connect.Interceptor = (*TokenInterceptor)(nil)

// NewTokenInterceptor creates an interceptor that rejects requests whose
// TokenHeader does not match token.
func NewTokenInterceptor(token string) *TokenInterceptor {
	return &TokenInterceptor{token: []byte(token)}
}

func (i *TokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		if !i.valid(req.Header().Get(TokenHeader)) {
			zlog.Debug().Msgf("connect: rejected unauthenticated call: procedure=%s", req.Spec().Procedure)
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *TokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *TokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.valid(conn.RequestHeader().Get(TokenHeader)) {
			zlog.Debug().Msgf("connect: rejected unauthenticated stream: procedure=%s", conn.Spec().Procedure)
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}

func (i *TokenInterceptor) valid(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), i.token) == 1
}

// NewTokenClientInterceptor attaches token to every outgoing request.
func NewTokenClientInterceptor(token string) connect.Interceptor {
	return &tokenClientInterceptor{token: token}
}

type tokenClientInterceptor struct {
	token string
}

func (i *tokenClientInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(TokenHeader, i.token)
		}
		return next(ctx, req)
	}
}

func (i *tokenClientInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(TokenHeader, i.token)
		return conn
	}
}

func (i *tokenClientInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
