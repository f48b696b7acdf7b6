package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "uesbot/internal/log"
	"uesbot/internal/model"
)

// Default browser parameters.
const (
	DefaultNavTimeout = 45 * time.Second
	loginSettle       = 2 * time.Second
)

// Login form selectors; the first match of each list is used.
const (
	passwordSel = `input[type="password"]`
	userSel     = `input[name="username"], input#username, input[name="user"], input[type="email"]`
	passSel     = `input[name="password"], input#password, input[type="password"]`
	submitSel   = `button[type="submit"], input[type="submit"]`
)

// BrowserOptions configures a Chromium-backed portal client.
type BrowserOptions struct {
	// BaseURL is the portal root, e.g. "https://ueslearning.ues.mx".
	BaseURL string
	// DashboardURL defaults to BaseURL + "/my/".
	DashboardURL string

	Username string
	Password string

	// ProfileDir is the Chromium user data directory. Keeping it across
	// runs keeps the portal session cookies, so logins are rare.
	ProfileDir string
	// ExecPath overrides the Chromium binary.
	ExecPath string
	Headful  bool

	// NavTimeout bounds each navigation. If zero, DefaultNavTimeout is used.
	NavTimeout time.Duration
}

// Browser opens portal sessions in a headless Chromium via chromedp.
type Browser struct {
	opts BrowserOptions
}

// NewBrowser normalizes opts and returns a Browser.
func NewBrowser(opts BrowserOptions) *Browser {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.DashboardURL == "" {
		opts.DashboardURL = opts.BaseURL + "/my/"
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = DefaultNavTimeout
	}
	return &Browser{opts: opts}
}

// Open launches Chromium, logs in when the dashboard redirects to the login
// page and returns the session. The browser lives until Close.
func (b *Browser) Open(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !b.opts.Headful),
		chromedp.WindowSize(1280, 900),
	)
	if b.opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(b.opts.ProfileDir))
	}
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	// The browser must outlive the caller's deadline on ctx; calls are
	// bounded per navigation instead.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	s := &browserSession{
		opts: b.opts,
		ctx:  browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}

	// Start the browser without a timeout so it is not tied to one.
	if err := chromedp.Run(browserCtx); err != nil {
		s.cancel()
		return nil, &FetchError{Op: "launch", Err: err}
	}

	if err := s.login(ctx); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

type browserSession struct {
	opts   BrowserOptions
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions under the navigation timeout, also stopping when
// the caller's ctx is done.
func (s *browserSession) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, s.opts.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

// page navigates to url and returns the final location and the document HTML.
func (s *browserSession) page(ctx context.Context, url string) (location, html string, err error) {
	err = s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return location, html, err
}

func onLoginPage(location string) bool {
	return strings.Contains(strings.ToLower(location), "login")
}

func (s *browserSession) login(ctx context.Context) error {
	location, _, err := s.page(ctx, s.opts.DashboardURL)
	if err != nil {
		return &FetchError{Op: "dashboard", URL: s.opts.DashboardURL, Err: err}
	}
	if !onLoginPage(location) {
		return nil
	}
	if s.opts.Username == "" || s.opts.Password == "" {
		return ErrCredentials
	}

	appLog.Info("portal login required", "url", location)
	err = s.run(ctx,
		chromedp.WaitVisible(passwordSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, s.opts.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, s.opts.Password, chromedp.ByQuery),
		chromedp.Click(submitSel, chromedp.ByQuery),
		// Give the form post time to redirect.
		chromedp.Sleep(loginSettle),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		return &FetchError{Op: "login", URL: location, Err: err}
	}
	if onLoginPage(location) {
		return &FetchError{Op: "login", URL: location, Err: fmt.Errorf("still on the login page, check username/password")}
	}
	appLog.Info("portal login ok")
	return nil
}

func (s *browserSession) Events(ctx context.Context) ([]model.Event, error) {
	location, html, err := s.page(ctx, s.opts.DashboardURL)
	if err != nil {
		return nil, &FetchError{Op: "dashboard", URL: s.opts.DashboardURL, Err: err}
	}
	if onLoginPage(location) {
		// Session expired between cycles.
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		if _, html, err = s.page(ctx, s.opts.DashboardURL); err != nil {
			return nil, &FetchError{Op: "dashboard", URL: s.opts.DashboardURL, Err: err}
		}
	}

	events, err := ParseDashboard(html)
	if err != nil {
		return nil, &FetchError{Op: "dashboard", URL: s.opts.DashboardURL, Err: err}
	}
	appLog.Info("dashboard events", "count", len(events))
	return events, nil
}

func (s *browserSession) Detail(ctx context.Context, url string) (Detail, error) {
	_, html, err := s.page(ctx, url)
	if err != nil {
		return Detail{}, &FetchError{Op: "event", URL: url, Err: err}
	}
	course, desc, err := ParseEventPage(html)
	if err != nil {
		return Detail{}, &FetchError{Op: "event", URL: url, Err: err}
	}
	sub, err := FindAssignmentURL(html, s.opts.BaseURL)
	if err != nil {
		return Detail{}, &FetchError{Op: "event", URL: url, Err: err}
	}
	return Detail{CourseName: course, Description: desc, SubmissionURL: sub}, nil
}

func (s *browserSession) Submission(ctx context.Context, url string) (Status, error) {
	_, html, err := s.page(ctx, url)
	if err != nil {
		return Status{}, &FetchError{Op: "assignment", URL: url, Err: err}
	}
	st, err := ParseSubmission(html)
	if err != nil {
		return Status{}, &FetchError{Op: "assignment", URL: url, Err: err}
	}
	return st, nil
}

func (s *browserSession) Close() error {
	s.cancel()
	return nil
}
