// Package artifact holds the metadata cached in front of the extractor and
// the source canonicalization used to key it.
package artifact

import (
	"net/url"
	"regexp"
	"strings"
)

// Format is one selectable download option for a source.
type Format struct {
	Type        string `json:"type"`
	Format      string `json:"format"`
	Label       string `json:"label"`
	VideoFormat string `json:"video_format,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	Note        string `json:"note,omitempty"`
}

type SubtitleFormat struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type SubtitleTrack struct {
	LanguageCode string           `json:"language_code"`
	LanguageName string           `json:"language_name"`
	Formats      []SubtitleFormat `json:"formats"`
}

var subtitlePriority = []string{"vtt", "srt", "ttml", "json3", "srv3"}

// BestFormat returns the preferred subtitle format: vtt, srt, ttml, json3, srv3.
func (t SubtitleTrack) BestFormat() (SubtitleFormat, bool) {
	for _, ext := range subtitlePriority {
		for _, f := range t.Formats {
			if f.Ext == ext {
				return f, true
			}
		}
	}
	if len(t.Formats) > 0 {
		return t.Formats[0], true
	}
	return SubtitleFormat{}, false
}

// SubtitleIndex lists the caption tracks available for a source.
type SubtitleIndex struct {
	Tracks            map[string]SubtitleTrack `json:"tracks"`
	AutomaticCaptions bool                     `json:"automatic_captions"`
	ManualCaptions    bool                     `json:"manual_captions"`
}

// Metadata is the expensive-to-recompute description of a source.
type Metadata struct {
	Title     string         `json:"title"`
	Filename  string         `json:"filename"`
	Formats   []Format       `json:"formats"`
	Subtitles *SubtitleIndex `json:"subtitles,omitempty"`
}

var youtubeID = regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?(?:youtube\.(?:com|nl)/(?:watch\?(?:.*&)?v=|shorts/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

// NormalizeSource canonicalizes a source URL so that equivalent URLs for the
// same content produce the same cache key.
func NormalizeSource(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := youtubeID.FindStringSubmatch(raw); m != nil {
		return "https://www.youtube.com/watch?v=" + m[1]
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Host == "web.facebook.com" || u.Host == "m.facebook.com" {
		u.Host = "facebook.com"
	}
	u.Fragment, u.RawFragment = "", ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// Platform names the site a source belongs to.
func Platform(source string) string {
	u, err := url.Parse(NormalizeSource(source))
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := strings.TrimPrefix(u.Host, "www.")
	switch {
	case strings.HasSuffix(host, "youtube.com"):
		return "youtube"
	case strings.HasSuffix(host, "tiktok.com"):
		return "tiktok"
	case strings.HasSuffix(host, "instagram.com"):
		return "instagram"
	case strings.HasSuffix(host, "facebook.com"), host == "fb.watch":
		return "facebook"
	case host == "x.com", host == "twitter.com":
		return "x"
	default:
		return host
	}
}
