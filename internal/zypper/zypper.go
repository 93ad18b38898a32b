// Package zypper queries the local package manager for pending patches and
// available products.
package zypper

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	utilexec "k8s.io/utils/exec"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/pkg/log"
	"github.com/autopeer-io/adminupgrade/pkg/options"
)

// Exit codes of zypper patch-check.
const (
	ExitUpdateNeeded    = 100
	ExitSecUpdateNeeded = 101
	// ExitZyppLocked is returned when another process holds the zypp lock.
	ExitZyppLocked = 7
)

const lockedPrefix = "System management is locked"

// PatchState is the outcome of a patch check.
type PatchState string

const (
	PatchesInstalled       PatchState = "installed"
	UpdatesPending         PatchState = "updates_pending"
	SecurityUpdatesPending PatchState = "security_updates_pending"
)

// Product is one entry of the products query.
type Product struct {
	Name      string `xml:"name,attr" json:"name"`
	Version   string `xml:"version,attr" json:"version"`
	Arch      string `xml:"arch,attr" json:"arch,omitempty"`
	Repo      string `xml:"repo,attr" json:"repo,omitempty"`
	IsBase    bool   `xml:"isbase,attr" json:"isbase,omitempty"`
	Installed bool   `xml:"installed,attr" json:"installed,omitempty"`
}

// Products is the product list reported by the package manager.
type Products []Product

// Has reports whether a product with exactly this name and version is listed.
func (p Products) Has(name, version string) bool {
	for _, prod := range p {
		if prod.Name == name && prod.Version == version {
			return true
		}
	}
	return false
}

type stream struct {
	XMLName  xml.Name  `xml:"stream"`
	Messages []string  `xml:"message"`
	Products []Product `xml:"product-list>product"`
}

// Client runs zypper through k8s.io/utils/exec. Concurrent calls of the same
// query share one invocation, and different queries run one after another
// since zypper holds a global lock while it runs.
type Client struct {
	exec   utilexec.Interface
	opts   *options.ZypperOptions
	logger log.Logger
	group  singleflight.Group
	// invoke is held for the lifetime of every zypper process.
	invoke sync.Mutex
}

// NewClient creates a Client. A nil exec uses the host's exec.
func NewClient(opts *options.ZypperOptions, exec utilexec.Interface, logger log.Logger) *Client {
	if exec == nil {
		exec = utilexec.New()
	}
	if opts == nil {
		opts = options.NewZypperOptions()
	}
	return &Client{
		exec:   exec,
		opts:   opts,
		logger: log.OrStd(logger).WithName("zypper"),
	}
}

// PatchCheck runs "zypper patch-check". Exit codes other than 100 and 101
// count as installed, including 7 when another process holds the zypp lock;
// invocations from this client never overlap so that only happens for
// foreign lock holders.
func (c *Client) PatchCheck(ctx context.Context) (PatchState, error) {
	v, err := c.do(ctx, "patch-check", func(ctx context.Context) (any, error) {
		return c.patchCheck(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(PatchState), nil
}

// do runs fn once for all concurrent callers of key. The shared invocation
// does not inherit the cancellation of whichever caller started it and is
// bounded by the configured timeout instead. Each caller still returns as soon
// as its own context is done.
func (c *Client) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", util.ErrExternalCommandFailed, key, err)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.invoke.Lock()
		defer c.invoke.Unlock()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		return fn(ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Joined in-flight package manager query", "query", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", util.ErrExternalCommandFailed, key, ctx.Err())
	}
}

func (c *Client) patchCheck(ctx context.Context) (PatchState, error) {
	cmd := c.exec.CommandContext(ctx, c.opts.Zypper, "--non-interactive", "patch-check")
	out, err := cmd.CombinedOutput()
	code, err := exitCode(ctx, err)
	if err != nil {
		return "", fmt.Errorf("%w: %s patch-check: %w", util.ErrExternalCommandFailed, c.opts.Zypper, err)
	}

	switch code {
	case ExitUpdateNeeded:
		c.logger.Warn("ZYPPER_EXIT_INF_UPDATE_NEEDED: patches available for installation.")
		return UpdatesPending, nil
	case ExitSecUpdateNeeded:
		c.logger.Warn("ZYPPER_EXIT_INF_SEC_UPDATE_NEEDED: security patches available for installation.")
		return SecurityUpdatesPending, nil
	default:
		c.logger.Debug("Patch check finished", "exitCode", code, "output", string(bytes.TrimSpace(out)))
		return PatchesInstalled, nil
	}
}

// Products runs "zypper-retry --xmlout products" and parses the stream. The
// output is parsed even if the command exits non-zero.
func (c *Client) Products(ctx context.Context) (Products, error) {
	v, err := c.do(ctx, "products", func(ctx context.Context) (any, error) {
		return c.products(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Products), nil
}

func (c *Client) products(ctx context.Context) (Products, error) {
	name, args := c.opts.ZypperRetry, []string{"--xmlout", "products"}
	if c.opts.Sudo != "" {
		name, args = c.opts.Sudo, append([]string{c.opts.ZypperRetry}, args...)
	}

	out, runErr := c.exec.CommandContext(ctx, name, args...).Output()
	code, startErr := exitCode(ctx, runErr)
	if startErr != nil {
		return nil, fmt.Errorf("%w: %s products: %w", util.ErrExternalCommandFailed, c.opts.ZypperRetry, startErr)
	}

	products, err := parseProducts(out)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		c.logger.Debug("Products query exited non-zero", "exitCode", code, "products", len(products))
	}
	return products, nil
}

func parseProducts(out []byte) (Products, error) {
	var s stream
	dec := xml.NewDecoder(bytes.NewReader(out))
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty output")
		}
		return nil, fmt.Errorf("%w: malformed products stream: %w", util.ErrExternalCommandFailed, err)
	}

	for _, m := range s.Messages {
		m = strings.TrimSpace(m)
		if strings.HasPrefix(m, lockedPrefix) {
			return nil, fmt.Errorf("%w: %s", util.ErrPackageManagerLocked, m)
		}
	}
	return Products(s.Products), nil
}

// exitCode extracts the exit status of a finished command. A command that did
// not start or was killed by the deadline yields an error.
func exitCode(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return 0, fmt.Errorf("timed out: %w", ctxErr)
		}
		return 0, ctxErr
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 0, err
}
