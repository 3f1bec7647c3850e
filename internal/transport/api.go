package transport

import (
	"context"
	"os"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

type (
	// apiTransport uploads directly through the providers REST API.
	apiTransport struct {
		client *provider.Client
	}
)

func newAPITransport(client *provider.Client) *apiTransport {
	return &apiTransport{client: client}
}

func (t *apiTransport) Kind() Kind { return API }

// Upload performs a quota pre-check followed by a single streaming upload.
// Every failure is returned as a classified error; there are no retries.
func (t *apiTransport) Upload(ctx context.Context, request Request) (*Result, error) {
	info, err := os.Stat(request.SourcePath)
	if err != nil {
		return nil, failure.Wrap(failure.Unknown, "open-source", err)
	}

	if quota, err := t.client.Quota(ctx); err != nil {
		if kind := failure.KindOf(err); kind.Fatal() {
			return nil, err
		}
		log.Emit(logger.WARNING, "Quota pre-check for job %s failed, continuing with upload: %v\n", request.JobID, err)
	} else if quota.Max > 0 && quota.Free < info.Size() {
		return nil, failure.New(failure.Quota, "quota", "file is %d bytes but only %d bytes of upload quota remain", info.Size(), quota.Free)
	}

	upload, err := t.client.CreateUpload(ctx, provider.CreateUploadRequest{
		Name:        request.Title,
		Description: request.Description,
		Visibility:  request.Visibility,
		Size:        info.Size(),
	})
	if err != nil {
		return nil, err
	}

	file, err := os.Open(request.SourcePath)
	if err != nil {
		return nil, failure.Wrap(failure.Unknown, "open-source", err)
	}
	defer file.Close()

	log.Emit(logger.INFO, "Streaming %d bytes for job %s to provider video %s\n", info.Size(), request.JobID, upload.VideoID)
	if err := t.client.StreamUpload(ctx, upload.UploadLink, file, info.Size()); err != nil {
		return nil, err
	}

	return &Result{ProviderVideoID: upload.VideoID, Handle: upload.Link}, nil
}

func (t *apiTransport) Status(ctx context.Context, videoID string) (*provider.Status, error) {
	return t.client.Status(ctx, videoID)
}

func (t *apiTransport) Metadata(ctx context.Context, videoID string) (*provider.Metadata, error) {
	return t.client.Metadata(ctx, videoID)
}

func (t *apiTransport) Close(bool) error { return nil }
