package chat

import (
	"context"
	"fmt"
)

type serviceKey struct{}

// ServiceFromContext retrieves the *Service stored by ContextWith.
func ServiceFromContext(ctx context.Context) (*Service, error) {
	s, ok := ctx.Value(serviceKey{}).(*Service)
	if !ok || s == nil {
		return nil, fmt.Errorf("chat service not found in context")
	}
	return s, nil
}

func ContextWith(ctx context.Context, s *Service) context.Context {
	return context.WithValue(ctx, serviceKey{}, s)
}
