package cms

import (
	"context"
	"fmt"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

type Verdict int

const (
	NotRequested Verdict = iota
	Match
	Missing
	Mismatch
)

func (v Verdict) String() string {
	switch v {
	case NotRequested:
		return fmt.Sprintf("NOT_REQUESTED[%d]", v)
	case Match:
		return fmt.Sprintf("MATCH[%d]", v)
	case Missing:
		return fmt.Sprintf("MISSING[%d]", v)
	case Mismatch:
		return fmt.Sprintf("MISMATCH[%d]", v)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", v)
	}
}

// CheckFeaturedMedia compares the featured media a post was created with
// against the featured media the CMS reports for it.
func CheckFeaturedMedia(expected int, actual int) Verdict {
	switch {
	case expected == 0:
		return NotRequested
	case actual == expected:
		return Match
	case actual == 0:
		return Missing
	default:
		return Mismatch
	}
}

type (
	// API is the subset of the CMS client used for publishing.
	API interface {
		UploadMedia(ctx context.Context, path string) (*Media, error)
		CreatePost(ctx context.Context, request PostRequest) (*Post, error)
		GetPost(ctx context.Context, id int) (*Post, error)
		UpdatePost(ctx context.Context, id int, fields map[string]any) (*Post, error)
	}

	PublishRequest struct {
		Title         string
		Content       string
		Status        string
		ThumbnailPath string
	}

	PublishResult struct {
		PostID                 int    `json:"post_id"`
		PostURL                string `json:"post_url"`
		FeaturedMediaID        int    `json:"featured_media_id"`
		FeaturedMediaConfirmed bool   `json:"featured_media_confirmed"`
		Repaired               bool   `json:"repaired"`
	}

	Verifier struct {
		api API
	}
)

func NewVerifier(api API) *Verifier {
	return &Verifier{api: api}
}

// Publish uploads the thumbnail (if any), creates the post and verifies
// the featured media link. A thumbnail that fails to upload does not
// prevent the post being created; the post is published without
// featured media. An integrity error is returned alongside the result
// when the featured media could not be confirmed.
func (verifier *Verifier) Publish(ctx context.Context, request PublishRequest) (*PublishResult, error) {
	mediaID := 0
	if request.ThumbnailPath != "" {
		media, err := verifier.api.UploadMedia(ctx, request.ThumbnailPath)
		if err != nil {
			if failure.KindOf(err).Fatal() {
				return nil, err
			}

			log.Emit(logger.WARNING, "Thumbnail upload failed, publishing without featured media: %v\n", err)
		} else {
			mediaID = media.ID
		}
	}

	post, err := verifier.api.CreatePost(ctx, PostRequest{
		Title:         request.Title,
		Content:       request.Content,
		Status:        request.Status,
		FeaturedMedia: mediaID,
	})
	if err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Created post %d (%s)\n", post.ID, post.Link)
	result := &PublishResult{PostID: post.ID, PostURL: post.Link, FeaturedMediaID: mediaID}
	return result, verifier.VerifyAndRepairFeaturedMedia(ctx, result)
}

// VerifyAndRepairFeaturedMedia re-reads the post and confirms its featured
// media matches the result. On a mismatch exactly one corrective update is
// issued, followed by one confirming read; if that read still disagrees
// an Integrity failure is returned.
func (verifier *Verifier) VerifyAndRepairFeaturedMedia(ctx context.Context, result *PublishResult) error {
	if result.FeaturedMediaID == 0 {
		return nil
	}

	post, err := verifier.api.GetPost(ctx, result.PostID)
	if err != nil {
		return err
	}

	verdict := CheckFeaturedMedia(result.FeaturedMediaID, post.FeaturedMedia)
	if verdict == Match {
		result.FeaturedMediaConfirmed = true
		return nil
	}

	log.Emit(logger.WARNING, "Post %d featured media verdict %s (expected %d, found %d), repairing\n",
		result.PostID, verdict, result.FeaturedMediaID, post.FeaturedMedia)
	if _, err := verifier.api.UpdatePost(ctx, result.PostID, map[string]any{"featured_media": result.FeaturedMediaID}); err != nil {
		return err
	}
	result.Repaired = true

	post, err = verifier.api.GetPost(ctx, result.PostID)
	if err != nil {
		return err
	}

	if verdict = CheckFeaturedMedia(result.FeaturedMediaID, post.FeaturedMedia); verdict != Match {
		log.Emit(logger.ERROR, "Post %d featured media still %s after repair\n", result.PostID, verdict)
		return failure.New(failure.Integrity, "verify featured media",
			"post %d reports featured media %d after repair, expected %d", result.PostID, post.FeaturedMedia, result.FeaturedMediaID)
	}

	result.FeaturedMediaConfirmed = true
	log.Emit(logger.SUCCESS, "Post %d featured media repaired\n", result.PostID)
	return nil
}
