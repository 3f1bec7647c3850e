package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Provider")

const (
	acceptHeader = "application/vnd.vimeo.*+json;version=3.4"
	tusVersion   = "1.0.0"

	meQuotaTemplate      = "%s/me?fields=upload_quota"
	createUploadTemplate = "%s/me/videos"
	videoStatusTemplate  = "%s/videos/%s?fields=status,transcode.status,upload.status"
	videoMetaTemplate    = "%s/videos/%s?fields=name,link,embed.html,player_embed_url"

	maxResponseBytes = 1 << 20
)

type (
	Config struct {
		BaseURL               string `yaml:"base_url" env:"PROVIDER_BASE_URL" env-default:"https://api.vimeo.com" validate:"required,url"`
		AccessToken           string `yaml:"access_token" env:"PROVIDER_ACCESS_TOKEN"`
		VideoPassword         string `yaml:"video_password" env:"PROVIDER_VIDEO_PASSWORD"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" env:"PROVIDER_REQUEST_TIMEOUT" env-default:"30" validate:"gte=1"`
	}

	Quota struct {
		Free int64 `mapstructure:"free"`
		Max  int64 `mapstructure:"max"`
		Used int64 `mapstructure:"used"`
	}

	CreateUploadRequest struct {
		Name        string
		Description string
		Visibility  string
		Size        int64
	}

	Upload struct {
		VideoID    string
		URI        string `mapstructure:"uri"`
		Link       string `mapstructure:"link"`
		UploadLink string `mapstructure:"upload_link"`
	}

	Status struct {
		State     string `mapstructure:"status"`
		Transcode string `mapstructure:"transcode_status"`
		Upload    string `mapstructure:"upload_status"`
	}

	Metadata struct {
		Name      string `mapstructure:"name"`
		Link      string `mapstructure:"link"`
		EmbedHTML string `mapstructure:"embed_html"`
		PlayerURL string `mapstructure:"player_embed_url"`
	}

	// Client talks to the hosting providers REST API using a bearer token.
	Client struct {
		config Config
		http   *http.Client
	}
)

// New constructs a provider client. If httpClient is nil, a client
// with the configured request timeout is used for all metadata calls;
// streaming uploads are bounded only by the context provided.
func New(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = 30
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{config: config, http: httpClient}
}

// Quota returns the upload quota of the authenticated account. A quota
// with Max == 0 indicates the provider did not report any limit.
func (client *Client) Quota(ctx context.Context) (*Quota, error) {
	var raw map[string]any
	if err := client.getJSON(ctx, "quota", fmt.Sprintf(meQuotaTemplate, client.config.BaseURL), &raw); err != nil {
		return nil, err
	}

	quota := &Quota{}
	space, _ := dig(raw, "upload_quota", "space").(map[string]any)
	if err := decode(space, quota); err != nil {
		return nil, failure.Wrap(failure.Unknown, "quota", err)
	}

	return quota, nil
}

// CreateUpload registers a new video with the provider using the tus
// upload approach, returning the link to which the content must be streamed.
func (client *Client) CreateUpload(ctx context.Context, request CreateUploadRequest) (*Upload, error) {
	privacy := map[string]any{"view": PrivacyForVisibility(request.Visibility)}
	payload := map[string]any{
		"upload":      map[string]any{"approach": "tus", "size": fmt.Sprintf("%d", request.Size)},
		"name":        request.Name,
		"description": request.Description,
		"privacy":     privacy,
	}
	if privacy["view"] == "password" && client.config.VideoPassword != "" {
		payload["password"] = client.config.VideoPassword
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, failure.Wrap(failure.Unknown, "create-upload", err)
	}

	var raw map[string]any
	if err := client.doJSON(ctx, "create-upload", http.MethodPost, fmt.Sprintf(createUploadTemplate, client.config.BaseURL), bytes.NewReader(body), &raw); err != nil {
		return nil, err
	}

	upload := &Upload{
		URI:        asString(raw["uri"]),
		Link:       asString(raw["link"]),
		UploadLink: asString(dig(raw, "upload", "upload_link")),
	}
	upload.VideoID = ParseVideoID(upload.URI)
	if upload.VideoID == "" || upload.UploadLink == "" {
		return nil, failure.New(failure.Unknown, "create-upload", "provider response is missing the video URI or upload link")
	}

	log.Emit(logger.DEBUG, "Created upload for video %s\n", upload.VideoID)
	return upload, nil
}

// StreamUpload sends the entire content to the tus upload link in a single
// PATCH request, verifying that the provider acknowledged every byte.
func (client *Client) StreamUpload(ctx context.Context, uploadLink string, content io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadLink, content)
	if err != nil {
		return failure.Wrap(failure.Unknown, "stream-upload", err)
	}

	req.ContentLength = size
	req.Header.Set("Tus-Resumable", tusVersion)
	req.Header.Set("Upload-Offset", "0")
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Accept", acceptHeader)

	resp, err := client.http.Do(req)
	if err != nil {
		log.Emit(logger.WARNING, "Streaming upload to provider failed: %v\n", err)
		return failure.FromTransport("stream-upload", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure.FromResponse("stream-upload", resp.StatusCode, body)
	}

	if offset := resp.Header.Get("Upload-Offset"); offset != "" && offset != fmt.Sprintf("%d", size) {
		return &failure.Error{
			Kind:       failure.Network,
			Op:         "stream-upload",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("provider acknowledged %s of %d bytes", offset, size),
		}
	}

	return nil
}

// Status queries the processing status of the video provided.
func (client *Client) Status(ctx context.Context, videoID string) (*Status, error) {
	var raw map[string]any
	if err := client.getJSON(ctx, "status", fmt.Sprintf(videoStatusTemplate, client.config.BaseURL, videoID), &raw); err != nil {
		return nil, err
	}

	flat := map[string]any{
		"status":           raw["status"],
		"transcode_status": dig(raw, "transcode", "status"),
		"upload_status":    dig(raw, "upload", "status"),
	}

	status := &Status{}
	if err := decode(flat, status); err != nil {
		return nil, failure.Wrap(failure.Unknown, "status", err)
	}

	return status, nil
}

// Metadata fetches the public link and embed markup for the video provided.
func (client *Client) Metadata(ctx context.Context, videoID string) (*Metadata, error) {
	var raw map[string]any
	if err := client.getJSON(ctx, "metadata", fmt.Sprintf(videoMetaTemplate, client.config.BaseURL, videoID), &raw); err != nil {
		return nil, err
	}

	flat := map[string]any{
		"name":             raw["name"],
		"link":             raw["link"],
		"embed_html":       dig(raw, "embed", "html"),
		"player_embed_url": raw["player_embed_url"],
	}

	meta := &Metadata{}
	if err := decode(flat, meta); err != nil {
		return nil, failure.Wrap(failure.Unknown, "metadata", err)
	}

	return meta, nil
}

func (client *Client) getJSON(ctx context.Context, op string, url string, target any) error {
	return client.doJSON(ctx, op, http.MethodGet, url, nil, target)
}

func (client *Client) doJSON(ctx context.Context, op string, method string, url string, body io.Reader, target any) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(client.config.RequestTimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return failure.Wrap(failure.Unknown, op, err)
	}

	req.Header.Set("Accept", acceptHeader)
	if client.config.AccessToken != "" {
		req.Header.Set("Authorization", "bearer "+client.config.AccessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.http.Do(req)
	if err != nil {
		log.Emit(logger.DEBUG, "Provider %s request failed before a response was received: %v\n", op, err)
		return failure.FromTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure.FromTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		classified := failure.FromResponse(op, resp.StatusCode, respBody)
		log.Emit(logger.WARNING, "Provider %s request rejected: %v\n", op, classified)
		return classified
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return &failure.Error{Kind: failure.Unknown, Op: op, StatusCode: resp.StatusCode, Snippet: failure.Snippet(string(respBody)), Err: err}
	}

	return nil
}

func decode(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

// dig walks nested JSON objects using the keys provided, returning
// nil if any step is missing.
func dig(raw map[string]any, keys ...string) any {
	var current any = raw
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}

	return current
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return ""
}

// Authenticated reports whether the client has an access token configured.
func (client *Client) Authenticated() bool { return client.config.AccessToken != "" }
