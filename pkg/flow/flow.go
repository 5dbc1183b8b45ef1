// Package flow drives the invitation and interview-confirmation pages
// without a browser. Every flow issues at most one request at a time,
// re-renders only from server answers, and redirects exactly once.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"hyrepro-admin/pkg/client"
)

var (
	// ErrBusy is returned while a request is in flight (the disabled button).
	ErrBusy = errors.New("flow: request already in flight")
	// ErrUnavailable is returned for an action the current stage does not offer.
	ErrUnavailable = errors.New("flow: action not available")
	// ErrStale is returned when a response arrived after Abort.
	ErrStale = errors.New("flow: response discarded")

	errEmptyResponse = errors.New("flow: empty response")
)

// Scheduler runs f once after d. The returned func cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options 流程公共配置，零值字段使用默认值
type Options struct {
	Scheduler      Scheduler
	RedirectDelay  time.Duration
	RequestTimeout time.Duration
	// RedirectTo 成功后跳转的地址
	RedirectTo string
	// Navigate 执行跳转，由前端实现
	Navigate func(url string)
	Now      func() time.Time
}

func (o Options) withDefaults(delay time.Duration, redirectTo string) Options {
	if o.Scheduler == nil {
		o.Scheduler = timerScheduler{}
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = delay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.RedirectTo == "" {
		o.RedirectTo = redirectTo
	}
	if o.Navigate == nil {
		o.Navigate = func(string) {}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// guard 单请求守卫：loading 标志 + 代数计数。
// 所有字段由外层流程的 mu 保护。
type guard struct {
	loading bool
	gen     uint64
	cancel  context.CancelFunc
}

// beginLocked starts a request or reports ErrBusy.
func (g *guard) beginLocked(parent context.Context, timeout time.Duration) (context.Context, uint64, error) {
	if g.loading {
		return nil, 0, ErrBusy
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	g.loading = true
	g.gen++
	g.cancel = cancel
	return ctx, g.gen, nil
}

// endLocked reports whether the response for gen may still be applied.
func (g *guard) endLocked(gen uint64) bool {
	if gen != g.gen {
		return false
	}
	g.loading = false
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return true
}

// abortLocked cancels the in-flight request; its response will be stale.
func (g *guard) abortLocked() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.loading = false
	g.gen++
}

// redirector 保证每个流程只调度一次跳转
type redirector struct {
	once sync.Once
}

func (r *redirector) schedule(opts Options, url string, delay time.Duration) {
	r.once.Do(func() {
		if delay <= 0 {
			opts.Navigate(url)
			return
		}
		opts.Scheduler.AfterFunc(delay, func() { opts.Navigate(url) })
	})
}

// errorText 把请求错误转换为用户可见的文案
func errorText(err error, fallback string) string {
	if errors.Is(err, client.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out. Please try again."
	}
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
