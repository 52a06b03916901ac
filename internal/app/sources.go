package app

import (
	"fmt"
	"strings"

	"logram/internal/config"
	"logram/internal/dispatch"
	"logram/internal/source"
	"logram/internal/source/counter"
	"logram/internal/source/docker"
	"logram/internal/source/filesystem"
	"logram/internal/source/journald"
	logx "logram/pkg/logx"
)

// OpenSources initializes the enabled sources in a fixed order: counter,
// filesystem, journald, docker. A failing source is skipped and its error
// returned alongside the ones that opened.
func OpenSources(cfg config.SourcesConfig, log logx.Logger) ([]source.Source, []dispatch.SourceSummary, []error) {
	var (
		out   []source.Source
		infos []dispatch.SourceSummary
		errs  []error
	)
	add := func(name string, src source.Source, err error, detail string) {
		if err != nil {
			log.Error("source init failed", logx.String("source", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s source: %w", name, err))
			return
		}
		out = append(out, src)
		infos = append(infos, dispatch.SourceSummary{Name: displayName(name), Detail: detail})
		log.Info("source enabled", logx.String("source", name), logx.String("detail", detail))
	}

	if c := cfg.Counter; c.Enabled {
		cc := counter.Config{Initial: c.InitialValue(), Interval: c.IntervalDuration()}
		s, err := counter.New(cc, log)
		add(counter.Name, s, err, fmt.Sprintf("interval = %s, initial = %d", cc.Interval, cc.Initial))
	}
	if c := cfg.Filesystem; c.Enabled {
		fc := filesystem.Config{Delay: c.DelayDuration(), Entries: c.Entries}
		s, err := filesystem.New(fc, log)
		add(filesystem.Name, s, err, fmt.Sprintf("delay = %s, entries = %s", fc.Delay, strings.Join(fc.Entries, ", ")))
	}
	if c := cfg.Journald; c.Enabled {
		jc := journald.Config{Matches: make([]journald.MatchGroup, 0, len(c.Matches))}
		titles := make([]string, 0, len(c.Matches))
		for _, g := range c.Matches {
			jc.Matches = append(jc.Matches, journald.MatchGroup{Title: g.Title, Filters: g.Filters})
			titles = append(titles, g.Title)
		}
		s, err := journald.New(jc, log)
		add(journald.Name, s, err, "matches = "+strings.Join(titles, ", "))
	}
	if c := cfg.Docker; c.Enabled {
		dc := docker.Config{Transport: c.TransportName(), Addr: c.Address(), Timeout: c.TimeoutDuration()}
		s, err := docker.New(dc, log)
		detail := "transport = " + dc.Transport
		if dc.Transport != docker.TransportLocal {
			detail += ", addr = " + dc.Addr
		}
		add(docker.Name, s, err, detail)
	}
	return out, infos, errs
}

func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
