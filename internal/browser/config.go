// internal/browser/config.go
package browser

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
)

const defaultLaunchTimeout = 30 * time.Second

// Config describes one launch (or attach) request. All launch variants go
// through this single struct; build it with NewConfig and the With* methods or
// from the application config with FromConfig.
type Config struct {
	ExecutablePath string
	Host           string
	Port           int // 0 picks a free local port when spawning.
	TargetURL      string
	ProfileDir     string // Persistent profile; empty uses a throwaway directory.
	Headless       bool
	Attach         bool // Attach to a browser already listening on Host:Port.
	Args           []string
	LaunchTimeout  time.Duration
}

// NewConfig returns a headless spawn config pointing at about:blank.
func NewConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          0,
		TargetURL:     "about:blank",
		Headless:      true,
		LaunchTimeout: defaultLaunchTimeout,
	}
}

// FromConfig maps the browser section of the application config.
func FromConfig(bc config.BrowserConfig) *Config {
	c := NewConfig().
		WithExecutable(bc.ExecutablePath).
		WithEndpoint(bc.Host, bc.Port).
		WithTargetURL(bc.TargetURL).
		WithProfileDir(bc.ProfileDir).
		WithHeadless(bc.Headless).
		WithArgs(bc.Args...)
	c.Attach = bc.Attach
	if bc.LaunchTimeout > 0 {
		c.LaunchTimeout = bc.LaunchTimeout
	}
	return c
}

func (c *Config) WithExecutable(path string) *Config { c.ExecutablePath = path; return c }
func (c *Config) WithTargetURL(u string) *Config     { c.TargetURL = u; return c }
func (c *Config) WithProfileDir(dir string) *Config  { c.ProfileDir = dir; return c }
func (c *Config) WithHeadless(b bool) *Config        { c.Headless = b; return c }
func (c *Config) WithArgs(args ...string) *Config    { c.Args = append(c.Args, args...); return c }

func (c *Config) WithPort(port int) *Config { c.Port = port; return c }

// WithEndpoint sets the debugging host and port. An empty host keeps the current one.
func (c *Config) WithEndpoint(host string, port int) *Config {
	if host != "" {
		c.Host = host
	}
	c.Port = port
	return c
}

// AttachTo switches the config to attach mode against a running browser.
func (c *Config) AttachTo(host string, port int) *Config {
	c.Attach = true
	return c.WithEndpoint(host, port)
}

// Endpoint renders host:port.
func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// normalize fills derived values: a concrete port and an expanded profile path.
func (c Config) normalize() (Config, error) {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = defaultLaunchTimeout
	}
	if c.TargetURL == "" {
		c.TargetURL = "about:blank"
	}
	if c.Attach && c.Port == 0 {
		return c, fmt.Errorf("attach requires an explicit debugging port")
	}
	if !c.Attach && c.Port == 0 {
		port, err := freePort(c.Host)
		if err != nil {
			return c, fmt.Errorf("failed to reserve a debugging port: %w", err)
		}
		c.Port = port
	}
	if c.ProfileDir != "" {
		dir, err := homedir.Expand(c.ProfileDir)
		if err != nil {
			return c, fmt.Errorf("failed to expand profile dir %q: %w", c.ProfileDir, err)
		}
		c.ProfileDir = dir
	}
	return c, nil
}

// allocatorOptions builds the exec allocator flags for a spawned browser.
func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", c.Headless),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(c.Port)),
		chromedp.Flag("disable-extensions", true),
	)
	if c.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecutablePath))
	}
	if c.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.ProfileDir))
	}

	for _, arg := range c.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers on linux rarely allow the setuid sandbox.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
