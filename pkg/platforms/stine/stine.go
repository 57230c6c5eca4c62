// Package stine talks to the STiNE campus management portal of the
// University of Hamburg.
package stine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/platforms"
	"github.com/stine-notifier/stine/pkg/whttp"
)

const (
	BASE_URL = "https://stine.uni-hamburg.de"
	API_PATH = "/scripts/mgrqispi.dll"
)

var refreshSessionRe = regexp.MustCompile(`-N(\d+)`)

type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

type Options struct {
	// BaseURL defaults to BASE_URL.
	BaseURL string
	// Client defaults to a whttp client with three retries.
	Client *retryablehttp.Client
	Logger Logger
	Now    func() time.Time
	// Concurrency bounds parallel grade statistic requests.
	Concurrency int
}

type Client struct {
	base        string
	http        *retryablehttp.Client
	log         Logger
	now         func() time.Time
	concurrency int
}

func New(opts Options) (*Client, error) {
	c := &Client{
		base:        strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.Client,
		log:         opts.Logger,
		now:         opts.Now,
		concurrency: opts.Concurrency,
	}
	if c.base == "" {
		c.base = BASE_URL
	}
	if c.http == nil {
		client, err := whttp.NewClient(whttp.ClientOptions{Retries: 3, Timeout: 30 * time.Second})
		if err != nil {
			return nil, err
		}
		c.http = client
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	return c, nil
}

func (c *Client) Name() string { return "stine" }

func (c *Client) headers(cookie string) []whttp.WHTTPHeader {
	h := []whttp.WHTTPHeader{
		{Name: "Referer", Value: c.base + "/"},
		{Name: "Origin", Value: c.base},
	}
	if cookie != "" {
		h = append(h, whttp.WHTTPHeader{Name: "Cookie", Value: "cnsc=" + cookie})
	}
	return h
}

// Login posts the classic login form. The portal answers with the session
// number in the REFRESH header and the cnsc cookie.
func (c *Client) Login(ctx context.Context, creds platforms.Credentials) (platforms.Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: fmt.Errorf("%w: username and password required", platforms.ErrAuthFailed)}
	}
	form := url.Values{
		"usrname":   {creds.Username},
		"pass":      {creds.Password},
		"APPNAME":   {"CampusNet"},
		"PRGNAME":   {"LOGINCHECK"},
		"ARGUMENTS": {"clino,usrname,pass,menuno,menu_type,browser,platform"},
		"clino":     {"000000000000001"},
		"menuno":    {"000000"},
		"menu_type": {"classic"},
		"browser":   {""},
		"platform":  {""},
	}
	res, err := whttp.PostForm(ctx, c.http, c.base+API_PATH, form, c.headers("")...)
	if err != nil {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: transportError(ctx, err)}
	}
	if err := checkPage(res.BodyString); err != nil {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: err}
	}

	m := refreshSessionRe.FindStringSubmatch(res.Headers.Get("Refresh"))
	if m == nil {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: fmt.Errorf("%w: no session in REFRESH header", platforms.ErrAuthFailed)}
	}
	cookie := cnscCookie(res.Headers)
	if cookie == "" {
		return platforms.Session{}, &platforms.Error{Op: "login", Err: fmt.Errorf("%w: missing cnsc cookie", platforms.ErrParse)}
	}

	now := c.now().UTC()
	c.log.Debugf("Logged in as %s", creds.Username)
	return platforms.Session{
		Token:    m[1],
		Cookie:   cookie,
		Username: creds.Username,
		IssuedAt: now,
		LastUsed: now,
		Valid:    true,
	}, nil
}

func cnscCookie(h http.Header) string {
	for _, ck := range (&http.Response{Header: h}).Cookies() {
		if ck.Name == "cnsc" {
			return ck.Value
		}
	}
	return ""
}

// post calls one portal program. The session number is always the first
// argument.
func (c *Client) post(ctx context.Context, s platforms.Session, prgname string, args ...string) (*whttp.WHTTPRes, error) {
	arguments := strings.Join(append([]string{"-N" + s.Token}, args...), ",")
	form := url.Values{
		"APPNAME":   {"CampusNet"},
		"PRGNAME":   {prgname},
		"ARGUMENTS": {arguments},
	}
	c.log.Debugf("Post to: %s %s", prgname, arguments)

	res, err := whttp.PostForm(ctx, c.http, c.base+API_PATH, form, c.headers(s.Cookie)...)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		if title, ok := whttp.PageTitle(res.BodyString); ok {
			return nil, fmt.Errorf("%w: %s answered %d (%s)", platforms.ErrNetwork, prgname, res.StatusCode, title)
		}
		return nil, fmt.Errorf("%w: %s answered %d", platforms.ErrNetwork, prgname, res.StatusCode)
	}
	if err := checkPage(res.BodyString); err != nil {
		return nil, err
	}
	return res, nil
}

// page calls a program and makes sure the answer is in lang, switching the
// account language once if it is not.
func (c *Client) page(ctx context.Context, s platforms.Session, lang entity.Language, prgname string, args ...string) (string, error) {
	res, err := c.post(ctx, s, prgname, args...)
	if err != nil {
		return "", err
	}
	got := whttp.PageLanguage(res.BodyString)
	if lang == "" || got == "" || got == string(lang) {
		return res.BodyString, nil
	}

	c.log.Debugf("Portal answered %s in %q, switching to %q", prgname, got, lang)
	if err := c.setLanguage(ctx, s, lang); err != nil {
		return "", err
	}
	res, err = c.post(ctx, s, prgname, args...)
	if err != nil {
		return "", err
	}
	if got := whttp.PageLanguage(res.BodyString); got != "" && got != string(lang) {
		return "", fmt.Errorf("%w: portal stays in %q after switching to %q", platforms.ErrParse, got, lang)
	}
	return res.BodyString, nil
}

func (c *Client) setLanguage(ctx context.Context, s platforms.Session, lang entity.Language) error {
	code := "-N002"
	if lang == entity.German {
		code = "-N001"
	}
	_, err := c.post(ctx, s, "CHANGELANGUAGE", code)
	return err
}

// checkPage maps the portal's error pages to sentinel errors.
func checkPage(body string) error {
	switch {
	case strings.Contains(body, "<h1>Kennung oder Kennwort falsch"):
		return fmt.Errorf("%w: wrong username or password", platforms.ErrAuthFailed)
	case strings.Contains(body, "<h1>Zugang verweigert</h1>"):
		return fmt.Errorf("%w: access denied", platforms.ErrAuthExpired)
	case strings.Contains(body, "<h1>Timeout</h1>"), strings.Contains(body, "<h1>Timeout!</h1>"):
		return fmt.Errorf("%w: session timed out", platforms.ErrAuthExpired)
	case strings.Contains(body, "<h1>Anmeldung zur Zeit nicht m"):
		return fmt.Errorf("%w: portal does not accept logins right now", platforms.ErrNetwork)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", platforms.ErrNetwork, err)
}
