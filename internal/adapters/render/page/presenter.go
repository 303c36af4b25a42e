package page

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
)

// Presenter writes every presented frame to w as rendered terminal text.
type Presenter struct {
	mu   sync.Mutex
	w    io.Writer
	opts RenderOptions
}

var _ ports.Presenter = (*Presenter)(nil)

func NewPresenter(w io.Writer, opts RenderOptions) *Presenter {
	return &Presenter{w: w, opts: opts}
}

func (p *Presenter) Present(ctx context.Context, frame domain.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := Render(frame, p.opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprintln(p.w, out); err != nil {
		return fmt.Errorf("write frame %d: %w", frame.Seq, err)
	}
	return nil
}

// JSONPresenter writes one JSON document per frame.
type JSONPresenter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ ports.Presenter = (*JSONPresenter)(nil)

func NewJSONPresenter(w io.Writer) *JSONPresenter {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &JSONPresenter{enc: enc}
}

func (p *JSONPresenter) Present(_ context.Context, frame domain.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enc.Encode(frame); err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.Seq, err)
	}
	return nil
}
