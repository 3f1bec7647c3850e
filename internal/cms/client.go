package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/session"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("CMS")

const (
	restPrefix   = "/wp-json/wp/v2"
	adminPath    = "/wp-admin/"
	nonceHeader  = "X-WP-Nonce"
	maxBodyBytes = 1 << 20
)

var noncePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"nonce":"([a-f0-9]+)"`),
	regexp.MustCompile(`name="_wpnonce"\s+value="([^"]+)"`),
}

type (
	Config struct {
		SiteURL               string `yaml:"site_url" env:"CMS_SITE_URL" validate:"omitempty,url"`
		Username              string `yaml:"username" env:"CMS_USERNAME"`
		ApplicationPassword   string `yaml:"application_password" env:"CMS_APPLICATION_PASSWORD"`
		CookieFile            string `yaml:"cookie_file" env:"CMS_COOKIE_FILE"`
		PostStatus            string `yaml:"post_status" env:"CMS_POST_STATUS" env-default:"publish" validate:"oneof=publish draft private pending"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" env:"CMS_REQUEST_TIMEOUT" env-default:"30" validate:"gte=1"`
	}

	Media struct {
		ID  int    `json:"id"`
		URL string `json:"source_url"`
	}

	Post struct {
		ID            int    `json:"id"`
		Link          string `json:"link"`
		Status        string `json:"status"`
		FeaturedMedia int    `json:"featured_media"`
	}

	PostRequest struct {
		Title         string `json:"title"`
		Content       string `json:"content"`
		Status        string `json:"status"`
		FeaturedMedia int    `json:"featured_media,omitempty"`
	}

	// Client is a WordPress REST client. It authenticates with the
	// configured session cookies first, and falls back to HTTP basic auth
	// using an application password the first time a request is rejected
	// as unauthorised. The fallback then applies for the life of the client.
	Client struct {
		config Config
		http   *http.Client

		mutex        sync.Mutex
		basic        bool
		nonce        string
		nonceFetched bool
	}
)

// Enabled reports whether a CMS site is configured at all.
func (config Config) Enabled() bool { return config.SiteURL != "" }

func (config Config) hasBasicCredentials() bool {
	return config.Username != "" && config.ApplicationPassword != ""
}

// New constructs a CMS client. If a cookie file is configured its cookies
// are loaded in to the clients jar; otherwise the client starts in basic
// auth mode.
func New(config Config, httpClient *http.Client) (*Client, error) {
	config.SiteURL = strings.TrimRight(config.SiteURL, "/")
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = 30
	}
	if config.PostStatus == "" {
		config.PostStatus = "publish"
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := &Client{config: config, http: httpClient}
	if config.CookieFile == "" {
		client.basic = config.hasBasicCredentials()
		return client, nil
	}

	cookies, err := session.LoadCookies(config.CookieFile)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	site, err := url.Parse(config.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("CMS site URL '%s' is invalid: %w", config.SiteURL, err)
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Secure: c.Secure, HttpOnly: c.HTTPOnly})
	}
	jar.SetCookies(site, httpCookies)

	// Copy rather than mutate the callers client.
	withJar := *httpClient
	withJar.Jar = jar
	client.http = &withJar

	log.Emit(logger.DEBUG, "Loaded %d session cookies for %s\n", len(httpCookies), config.SiteURL)
	return client, nil
}

// PostStatus returns the status new posts are created with.
func (client *Client) PostStatus() string { return client.config.PostStatus }

// UsingBasicAuth reports whether the client has fallen back to (or started
// with) application-password authentication.
func (client *Client) UsingBasicAuth() bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.basic
}

// UploadMedia uploads the file provided to the media library.
func (client *Client) UploadMedia(ctx context.Context, path string) (*Media, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media '%s': %w", path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	headers.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))

	media := &Media{}
	if err := client.do(ctx, "upload media", http.MethodPost, restPrefix+"/media", content, headers, media); err != nil {
		return nil, err
	}

	log.Emit(logger.SUCCESS, "Uploaded media %s as attachment %d\n", filepath.Base(path), media.ID)
	return media, nil
}

func (client *Client) CreatePost(ctx context.Context, request PostRequest) (*Post, error) {
	if request.Status == "" {
		request.Status = client.config.PostStatus
	}

	post := &Post{}
	if err := client.doJSON(ctx, "create post", http.MethodPost, restPrefix+"/posts", request, post); err != nil {
		return nil, err
	}

	return post, nil
}

func (client *Client) GetPost(ctx context.Context, id int) (*Post, error) {
	post := &Post{}
	if err := client.do(ctx, "get post", http.MethodGet, fmt.Sprintf("%s/posts/%d?context=edit", restPrefix, id), nil, nil, post); err != nil {
		return nil, err
	}

	return post, nil
}

// UpdatePost applies the (partial) set of fields provided to an existing post.
func (client *Client) UpdatePost(ctx context.Context, id int, fields map[string]any) (*Post, error) {
	post := &Post{}
	if err := client.doJSON(ctx, "update post", http.MethodPost, fmt.Sprintf("%s/posts/%d", restPrefix, id), fields, post); err != nil {
		return nil, err
	}

	return post, nil
}

func (client *Client) doJSON(ctx context.Context, op string, method string, path string, payload any, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure.Wrap(failure.Unknown, op, err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return client.do(ctx, op, method, path, body, headers, target)
}

// do performs a request against the site. A 401 received while using
// cookie auth switches the client to basic auth and retries the request
// exactly once.
func (client *Client) do(ctx context.Context, op string, method string, path string, body []byte, headers http.Header, target any) error {
	if method != http.MethodGet {
		client.ensureNonce(ctx)
	}

	status, respBody, err := client.send(ctx, op, method, path, body, headers)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && client.switchToBasic() {
		log.Emit(logger.WARNING, "CMS %s rejected session cookies, retrying with application password\n", op)
		status, respBody, err = client.send(ctx, op, method, path, body, headers)
		if err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		classified := failure.FromResponse(op, status, respBody)
		log.Emit(logger.WARNING, "CMS %s request rejected: %v\n", op, classified)
		return classified
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return &failure.Error{Kind: failure.Unknown, Op: op, StatusCode: status, Snippet: failure.Snippet(string(respBody)), Err: err}
	}

	return nil
}

func (client *Client) send(ctx context.Context, op string, method string, path string, body []byte, headers http.Header) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(client.config.RequestTimeoutSeconds)*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, client.config.SiteURL+path, reader)
	if err != nil {
		return 0, nil, failure.Wrap(failure.Unknown, op, err)
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")

	client.mutex.Lock()
	if client.basic {
		req.SetBasicAuth(client.config.Username, client.config.ApplicationPassword)
	} else if client.nonce != "" {
		req.Header.Set(nonceHeader, client.nonce)
	}
	client.mutex.Unlock()

	resp, err := client.http.Do(req)
	if err != nil {
		log.Emit(logger.DEBUG, "CMS %s request failed before a response was received: %v\n", op, err)
		return 0, nil, failure.FromTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, failure.FromTransport(op, err)
	}

	return resp.StatusCode, respBody, nil
}

func (client *Client) switchToBasic() bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.basic || !client.config.hasBasicCredentials() {
		return false
	}

	client.basic = true
	return true
}

// ensureNonce fetches the REST nonce from the admin dashboard once per
// client. Failure to find one is not an error; the request proceeds
// without it.
func (client *Client) ensureNonce(ctx context.Context) {
	client.mutex.Lock()
	if client.basic || client.nonceFetched {
		client.mutex.Unlock()
		return
	}
	client.nonceFetched = true
	client.mutex.Unlock()

	status, body, err := client.send(ctx, "fetch nonce", http.MethodGet, adminPath, nil, nil)
	if err != nil || status != http.StatusOK {
		log.Emit(logger.DEBUG, "Unable to fetch REST nonce (status %d): %v\n", status, err)
		return
	}

	if nonce := ExtractNonce(string(body)); nonce != "" {
		client.mutex.Lock()
		client.nonce = nonce
		client.mutex.Unlock()
		return
	}

	log.Emit(logger.DEBUG, "No REST nonce present on admin dashboard\n")
}

// ExtractNonce finds a REST nonce in the admin page markup provided.
func ExtractNonce(page string) string {
	for _, pattern := range noncePatterns {
		if match := pattern.FindStringSubmatch(page); match != nil {
			return match[1]
		}
	}

	return ""
}
