package whttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"
)

const USER_AGENT = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
	Body    string
}

type WHTTPRes struct {
	StatusCode     int
	ResponseLength int
	Headers        http.Header
	HTTPTitle      string
	BodyString     string
}

// ClientOptions configures the portal client.
type ClientOptions struct {
	Proxy   string
	Retries int
	Timeout time.Duration
	// Logger is handed to retryablehttp; either a retryablehttp.Logger or a
	// retryablehttp.LeveledLogger. Nil discards its output.
	Logger interface{}
}

// NewClient returns a retrying client. Redirects are not followed: the portal
// answers logins with a REFRESH header and the caller needs to see it.
func NewClient(opts ClientOptions) (*retryablehttp.Client, error) {
	client := retryablehttp.NewClient()
	client.Logger = opts.Logger
	if client.Logger == nil {
		client.Logger = log.New(io.Discard, "", 0)
	}
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		client.HTTPClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client, nil
}

// SendHTTPRequest performs the request and reads the whole body.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	var body interface{}
	if wReq.Body != "" {
		body = strings.NewReader(wReq.Body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", USER_AGENT)
	req.Header.Set("Cache-Control", "no-transform")
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	wRes := &WHTTPRes{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		BodyString: string(bodyBytes),
	}
	if title, ok := PageTitle(wRes.BodyString); ok {
		wRes.HTTPTitle = strings.ToValidUTF8(strings.TrimSpace(strings.NewReplacer("\n", "", "\r", "").Replace(title)), "")
	}
	wRes.ResponseLength = utf8.RuneCountInString(wRes.BodyString)
	return wRes, nil
}

// PostForm sends a url-encoded form.
func PostForm(ctx context.Context, client *retryablehttp.Client, target string, form url.Values, headers ...WHTTPHeader) (*WHTTPRes, error) {
	return SendHTTPRequest(ctx, &WHTTPReq{
		Method: http.MethodPost,
		URL:    target,
		Headers: append([]WHTTPHeader{
			{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		}, headers...),
		Body: form.Encode(),
	}, client)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// PageTitle returns the text of the first <title> element.
func PageTitle(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	n := findElement(doc, "title")
	if n == nil {
		return "", false
	}
	if n.FirstChild != nil {
		return n.FirstChild.Data, true
	}
	return "", true
}

// PageLanguage returns the lang attribute of the <html> element, lowercased
// and without region ("de-DE" is "de"). It is empty when absent.
func PageLanguage(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	n := findElement(doc, "html")
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "lang") {
			lang := strings.ToLower(strings.TrimSpace(a.Val))
			if i := strings.IndexAny(lang, "-_"); i > 0 {
				lang = lang[:i]
			}
			return lang
		}
	}
	return ""
}
