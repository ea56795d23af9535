package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirimatin/go-rumors/pkg/discovery"
	"github.com/amirimatin/go-rumors/internal/logutil"
	"github.com/amirimatin/go-rumors/pkg/membership"
)

// Options configures file/ENV-based discovery.
type Options struct {
	// Path to a file (or glob) containing one seed per line or a comma-separated list.
	Path string
	// Env overrides file when non-empty.
	Env string
	// Refresh controls cache staleness; if zero, defaults to 5s.
	Refresh time.Duration

	Logger logrus.FieldLogger
}

type impl struct {
	opts  Options
	log   logrus.FieldLogger
	mu    sync.Mutex
	last  time.Time
	mtime time.Time
	cache []membership.Endpoint
}

func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	return &impl{opts: opts, log: logutil.Component(opts.Logger, "discovery.file")}
}

func (i *impl) Seeds() []membership.Endpoint {
	i.mu.Lock()
	defer i.mu.Unlock()
	// ENV takes precedence
	if i.opts.Env != "" {
		if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" {
			return i.parse(discovery.SplitCSV(v))
		}
	}
	if i.opts.Path == "" {
		return nil
	}
	now := time.Now()
	stat, err := os.Stat(i.opts.Path)
	if err == nil {
		if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
			i.cache = i.parse(loadFile(i.opts.Path))
			i.last = now
			i.mtime = stat.ModTime()
		}
		return append([]membership.Endpoint(nil), i.cache...)
	}
	matches, _ := filepath.Glob(i.opts.Path)
	if len(matches) > 0 {
		var items []string
		for _, m := range matches {
			items = append(items, loadFile(m)...)
		}
		i.cache = i.parse(items)
		i.last = now
	}
	return append([]membership.Endpoint(nil), i.cache...)
}

func (i *impl) parse(items []string) []membership.Endpoint {
	eps, bad := discovery.ParseList(items)
	if len(bad) > 0 {
		i.log.WithField("items", bad).Warn("ignoring malformed seeds")
	}
	return eps
}

func loadFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var seeds []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, discovery.SplitCSV(line)...)
	}
	if err := s.Err(); err != nil {
		return nil
	}
	return seeds
}
