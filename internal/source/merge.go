package source

import (
	"context"
	"sync"
)

// Merge interleaves inputs into a single stream in arrival order.
//
// The output closes when every input has closed. With no inputs it never
// produces and closes only when ctx ends.
func Merge(ctx context.Context, inputs ...<-chan Result) <-chan Result {
	out := make(chan Result)
	if len(inputs) == 0 {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in <-chan Result) {
			defer wg.Done()
			for r := range in {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Start runs every source and merges their streams.
func Start(ctx context.Context, sources ...Source) <-chan Result {
	streams := make([]<-chan Result, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			continue
		}
		streams = append(streams, s.Run(ctx))
	}
	return Merge(ctx, streams...)
}
