//go:build !linux || !cgo

package journald

import (
	"context"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

type Source struct{}

func New(cfg Config, log logx.Logger) (*Source, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func (s *Source) Name() string { return Name }

func (s *Source) Run(ctx context.Context) <-chan source.Result {
	out := make(chan source.Result)
	close(out)
	return out
}

func (s *Source) Close() {}
