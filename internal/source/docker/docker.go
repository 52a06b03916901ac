// Package docker tails the stdout and stderr of running containers and of every
// container started afterwards.
package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/events"
	"github.com/moby/moby/client"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

const (
	Name = "docker"

	TransportLocal = "local"
	TransportUnix  = "unix"
	TransportHTTP  = "http"

	DefaultAddr    = "unix:///var/run/docker.sock"
	DefaultTimeout = 120 * time.Second
)

type Config struct {
	Transport string
	Addr      string
	// Timeout bounds the ping and list calls. Log and event streams are unbounded.
	Timeout time.Duration
}

// dockerAPI is the subset of the moby client this source uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options client.ContainerListOptions) (client.ContainerListResult, error)
	ContainerLogs(ctx context.Context, container string, options client.ContainerLogsOptions) (client.ContainerLogsResult, error)
	Events(ctx context.Context, options client.EventsListOptions) client.EventsResult
	Close() error
}

type Source struct {
	api     dockerAPI
	timeout time.Duration
	log     logx.Logger
}

// New connects to the runtime and verifies it answers a ping.
func New(cfg Config, log logx.Logger) (*Source, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	host, err := hostFor(cfg.Transport, cfg.Addr)
	if err != nil {
		return nil, err
	}
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.WithHostFromEnv())
	}
	cli, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	ping, err := cli.Ping(ctx, client.PingOptions{NegotiateAPIVersion: true})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker: ping: %w", err)
	}
	l := log.With(logx.Comp(Name))
	l.Debug("docker connected", logx.String("api_version", ping.APIVersion), logx.String("os", ping.OSType))
	return newWithAPI(cli, cfg.Timeout, l), nil
}

func newWithAPI(api dockerAPI, timeout time.Duration, log logx.Logger) *Source {
	return &Source{api: api, timeout: timeout, log: log}
}

// hostFor maps a transport and address to a client host. An empty result
// means the environment default.
func hostFor(transport, addr string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", TransportLocal:
		return "", nil
	case TransportUnix:
		if addr == "" {
			return DefaultAddr, nil
		}
		if strings.HasPrefix(addr, "unix://") {
			return addr, nil
		}
		return "unix://" + addr, nil
	case TransportHTTP:
		if addr == "" {
			return "", errors.New("docker: http transport requires addr")
		}
		for _, p := range []string{"http://", "tcp://"} {
			if strings.HasPrefix(addr, p) {
				return "tcp://" + strings.TrimPrefix(addr, p), nil
			}
		}
		return "tcp://" + addr, nil
	default:
		return "", fmt.Errorf("docker: unknown transport %q", transport)
	}
}

func (s *Source) Name() string { return Name }

func (s *Source) Run(ctx context.Context) <-chan source.Result {
	em := source.NewEmitter(Name, source.DefaultBuffer, s.log)
	var tails sync.WaitGroup
	tail := func(name string) {
		tails.Add(1)
		go func() {
			defer tails.Done()
			s.tail(ctx, name, em)
		}()
	}

	var tasks sync.WaitGroup
	tasks.Add(2)
	go func() {
		defer tasks.Done()
		if err := s.backfill(ctx, tail); err != nil && ctx.Err() == nil {
			em.Error(err)
		}
	}()
	go func() {
		defer tasks.Done()
		if err := s.watch(ctx, tail); err != nil && ctx.Err() == nil {
			em.Error(err)
		}
	}()

	go func() {
		tasks.Wait()
		tails.Wait()
		em.Close()
		_ = s.api.Close()
	}()
	return em.C()
}

func (s *Source) backfill(ctx context.Context, tail func(string)) error {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.api.ContainerList(lctx, client.ContainerListOptions{
		Filters: make(client.Filters).Add("status", "running"),
	})
	if err != nil {
		return fmt.Errorf("docker: list containers: %w", err)
	}
	for _, c := range res.Items {
		name := containerName(c.Names, c.ID)
		s.log.Debug("tailing running container", logx.String("container", name))
		tail(name)
	}
	return nil
}

func (s *Source) watch(ctx context.Context, tail func(string)) error {
	res := s.api.Events(ctx, client.EventsListOptions{
		Filters: make(client.Filters).Add("type", string(events.ContainerEventType)).Add("event", string(events.ActionStart)),
	})
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-res.Messages:
			if !ok {
				return nil
			}
			if msg.Type != events.ContainerEventType || msg.Action != events.ActionStart {
				continue
			}
			name := msg.Actor.Attributes["name"]
			if name == "" {
				name = msg.Actor.ID
			}
			s.log.Debug("tailing started container", logx.String("container", name))
			tail(name)
		case err, ok := <-res.Err:
			if !ok || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("docker: events: %w", err)
		}
	}
}

func (s *Source) tail(ctx context.Context, name string, em *source.Emitter) {
	rc, err := s.api.ContainerLogs(ctx, name, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Since:      sinceArg(time.Now()),
	})
	if err != nil {
		if ctx.Err() == nil {
			em.Error(fmt.Errorf("docker: logs %s: %w", name, err))
		}
		return
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = pw.CloseWithError(err)
	}()
	defer pr.Close()

	title := name + " container"
	err = readLines(pr, maxLineBytes, func(line string, cut bool) {
		if cut {
			s.log.Warn("container log line truncated", logx.String("container", name), logx.Int("limit", maxLineBytes))
		}
		em.Record(source.Record{Title: title, Body: line})
	})
	if err != nil && ctx.Err() == nil {
		em.Error(fmt.Errorf("docker: read logs %s: %w", name, err))
	}
	s.log.Debug("container log stream ended", logx.String("container", name))
}

// maxLineBytes caps one log line. The rest of a longer line is dropped and the
// stream goes on.
const maxLineBytes = 1 << 20

// readLines calls fn with every line of r, without the line ending. A line
// over limit bytes is cut to limit and reported with cut set.
func readLines(r io.Reader, limit int, fn func(line string, cut bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf []byte
		cut bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if room := limit - len(buf); len(chunk) <= room {
			buf = append(buf, chunk...)
		} else {
			buf = append(buf, chunk[:room]...)
			cut = cut || len(bytes.TrimRight(chunk[room:], "\r\n")) > 0
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(buf) > 0 {
			line := strings.TrimRight(string(buf), "\r\n")
			if cut {
				line = strings.ToValidUTF8(line, "")
			}
			fn(line, cut)
		}
		buf, cut = buf[:0], false
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// sinceArg formats t for the logs Since option with nanosecond precision so a
// tail starts after the lines already printed in the same second.
func sinceArg(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// containerName returns the first name without its leading slash.
func containerName(names []string, id string) string {
	for _, n := range names {
		if n = strings.TrimPrefix(n, "/"); n != "" {
			return n
		}
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
