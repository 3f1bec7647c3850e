package provider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*provider.Client, string) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return provider.New(provider.Config{BaseURL: srv.URL, AccessToken: "secret", RequestTimeoutSeconds: 5}, srv.Client()), srv.URL
}

func Test_CreateUpload_SendsTusRequest(t *testing.T) {
	t.Parallel()

	var received map[string]any
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/videos", r.URL.Path)
		assert.Equal(t, "bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"uri":"/videos/987","link":"https://vimeo.com/987","upload":{"upload_link":"https://upload.example/987"}}`)
	})

	upload, err := client.CreateUpload(context.Background(), provider.CreateUploadRequest{Name: "Demo", Visibility: "private", Size: 42})
	require.NoError(t, err)
	assert.Equal(t, "987", upload.VideoID)
	assert.Equal(t, "https://upload.example/987", upload.UploadLink)

	assert.Equal(t, "tus", received["upload"].(map[string]any)["approach"])
	assert.Equal(t, "42", received["upload"].(map[string]any)["size"])
	assert.Equal(t, "nobody", received["privacy"].(map[string]any)["view"])
}

func Test_CreateUpload_ClassifiesRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		expected failure.Kind
	}{
		{"bad token", http.StatusUnauthorized, `{"error":"Something strange occurred."}`, failure.Auth},
		{"storage", http.StatusForbidden, `{"error":"You have reached your storage quota"}`, failure.Quota},
		{"outage", http.StatusBadGateway, `oops`, failure.Network},
		{"invalid", http.StatusBadRequest, `{"error":"invalid parameter"}`, failure.Unknown},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				_, _ = io.WriteString(w, test.body)
			})

			_, err := client.CreateUpload(context.Background(), provider.CreateUploadRequest{Name: "x", Size: 1})
			require.Error(t, err)
			assert.Equal(t, test.expected, failure.KindOf(err))

			var classified *failure.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, test.status, classified.StatusCode)
		})
	}
}

func Test_StreamUpload_VerifiesOffset(t *testing.T) {
	t.Parallel()

	client, base := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "1.0.0", r.Header.Get("Tus-Resumable"))
		assert.Equal(t, "0", r.Header.Get("Upload-Offset"))
		body, _ := io.ReadAll(r.Body)

		if strings.HasSuffix(r.URL.Path, "short") {
			w.Header().Set("Upload-Offset", "2")
		} else {
			w.Header().Set("Upload-Offset", "5")
		}
		assert.Equal(t, "hello", string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, client.StreamUpload(context.Background(), base+"/full", strings.NewReader("hello"), 5))

	err := client.StreamUpload(context.Background(), base+"/short", strings.NewReader("hello"), 5)
	assert.Equal(t, failure.Network, failure.KindOf(err))
}

func Test_StatusAndMetadata(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") == "status,transcode.status,upload.status" {
			_, _ = io.WriteString(w, `{"status":"available","transcode":{"status":"complete"},"upload":{"status":"complete"}}`)
			return
		}

		_, _ = io.WriteString(w, `{"name":"Demo","link":"https://vimeo.com/5","embed":{"html":"<iframe></iframe>"}}`)
	})

	status, err := client.Status(context.Background(), "5")
	require.NoError(t, err)
	assert.True(t, status.Available())
	assert.False(t, status.Errored())

	meta, err := client.Metadata(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "https://vimeo.com/5", meta.Link)
	assert.Equal(t, "<iframe></iframe>", meta.EmbedHTML)
}

func Test_Quota(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		_, _ = io.WriteString(w, `{"upload_quota":{"space":{"free":100,"max":1000,"used":900}}}`)
	})

	quota, err := client.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), quota.Free)
	assert.Equal(t, int64(1000), quota.Max)
}

func Test_StatusHelpers(t *testing.T) {
	t.Parallel()

	assert.False(t, (&provider.Status{State: "available", Transcode: "in_progress"}).Available())
	assert.False(t, (&provider.Status{State: "available"}).Available())
	assert.True(t, (&provider.Status{State: "available", Transcode: "complete"}).Available())
	assert.True(t, (&provider.Status{State: "transcoding_error"}).Errored())
	assert.True(t, (&provider.Status{State: "uploading"}).Uploading())
	assert.True(t, failure.IsQuotaText((&provider.Status{State: "quota_exceeded"}).Text()))

	assert.Equal(t, "123", provider.ParseVideoID("/videos/123"))
	assert.Equal(t, "456", provider.ParseVideoID("https://vimeo.com/manage/videos/456/settings"))
	assert.Equal(t, "789", provider.ParseVideoID("https://player.vimeo.com/video/789"))
	assert.Equal(t, "", provider.ParseVideoID("https://vimeo.com/upload"))

	assert.Equal(t, "anybody", provider.PrivacyForVisibility("public"))
	assert.Equal(t, "unlisted", provider.PrivacyForVisibility("unlisted"))
	assert.Contains(t, provider.EmbedMarkup("1", `a "b"`), "https://player.vimeo.com/video/1")
	assert.Contains(t, provider.EmbedMarkup("1", `a "b"`), "a &#34;b&#34;")
}
