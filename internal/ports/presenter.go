package ports

import (
	"context"

	"github.com/bnema/pagerun/internal/domain"
)

// Presenter is the rendering host. It receives one frame per presented Run.
type Presenter interface {
	Present(ctx context.Context, frame domain.Frame) error
}

type PresenterFunc func(ctx context.Context, frame domain.Frame) error

func (f PresenterFunc) Present(ctx context.Context, frame domain.Frame) error {
	return f(ctx, frame)
}
