package provider

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	playerURLTemplate = "https://player.vimeo.com/video/%s"
	videoURLTemplate  = "https://vimeo.com/%s"
	embedTemplate     = `<iframe src="%s" width="640" height="360" frameborder="0" allow="autoplay; fullscreen; picture-in-picture" allowfullscreen title="%s"></iframe>`
)

var videoIDPattern = regexp.MustCompile(`(?:/videos/|vimeo\.com/(?:manage/videos/)?|/video/)(\d+)`)

// Available reports whether the video is viewable with transcoding complete.
// A status without a transcode state is not available.
func (status *Status) Available() bool {
	return status.State == "available" && status.Transcode == "complete"
}

// Errored reports whether the provider has given up processing the video.
func (status *Status) Errored() bool {
	return strings.HasSuffix(status.State, "error") || status.Transcode == "error" || status.Upload == "error"
}

// Uploading reports whether the provider is still receiving the content.
func (status *Status) Uploading() bool {
	return status.State == "uploading" || status.Upload == "in_progress"
}

// Text renders the status as plain words, suitable for text classification.
func (status *Status) Text() string {
	return strings.ReplaceAll(fmt.Sprintf("%s %s %s", status.State, status.Transcode, status.Upload), "_", " ")
}

// PrivacyForVisibility maps a job visibility on to the providers privacy view.
func PrivacyForVisibility(visibility string) string {
	switch visibility {
	case "private":
		return "nobody"
	case "password":
		return "password"
	case "unlisted":
		return "unlisted"
	default:
		return "anybody"
	}
}

// ParseVideoID extracts the numeric video identifier from an API URI
// (/videos/123), a public link, or a management page URL.
func ParseVideoID(s string) string {
	if match := videoIDPattern.FindStringSubmatch(s); match != nil {
		return match[1]
	}

	return ""
}

// PlayableURL returns the public page for a video.
func PlayableURL(videoID string) string {
	return fmt.Sprintf(videoURLTemplate, videoID)
}

// EmbedMarkup returns a player iframe for a video, used when the provider
// does not supply its own embed HTML.
func EmbedMarkup(videoID string, title string) string {
	return fmt.Sprintf(embedTemplate, fmt.Sprintf(playerURLTemplate, videoID), html.EscapeString(title))
}
