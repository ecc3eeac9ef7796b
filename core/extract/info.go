package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cordum/mediadrop/core/artifact"
)

// minAudioBitrate drops low-bitrate audio from video+audio combinations.
const minAudioBitrate = 66.7

type rawInfo struct {
	Title             string              `json:"title"`
	Filename          string              `json:"filename"`
	LegacyFilename    string              `json:"_filename"`
	Formats           []rawFormat         `json:"formats"`
	Subtitles         map[string][]rawSub `json:"subtitles"`
	AutomaticCaptions map[string][]rawSub `json:"automatic_captions"`
}

type rawFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	FormatNote *string `json:"format_note"`
	Height     int     `json:"height"`
	ABR        float64 `json:"abr"`
}

type rawSub struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (f rawFormat) videoOnly() bool { return f.VCodec != "none" && f.ACodec == "none" }

func (f rawFormat) audioOnly() bool {
	return f.ACodec != "none" && f.VCodec == "none" && f.ABR > 0
}

func (f rawFormat) note() string {
	if f.FormatNote == nil {
		return ""
	}
	return *f.FormatNote
}

// ParseInfo turns yt-dlp's single-JSON dump into cached metadata. Video
// tracks are paired with the best maxAudio audio tracks; audio-only entries
// follow.
func ParseInfo(data []byte, maxAudio int) (artifact.Metadata, error) {
	var info rawInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return artifact.Metadata{}, fmt.Errorf("parse yt-dlp info: %w", err)
	}
	if maxAudio <= 0 {
		maxAudio = defaultMaxAudio
	}
	filename := info.Filename
	if filename == "" {
		filename = info.LegacyFilename
	}
	if filename != "" {
		filename = filepath.Base(filename)
	}
	return artifact.Metadata{
		Title:     info.Title,
		Filename:  filename,
		Formats:   buildFormats(info.Formats, maxAudio),
		Subtitles: buildSubtitles(info.Subtitles, info.AutomaticCaptions),
	}, nil
}

func buildFormats(formats []rawFormat, maxAudio int) []artifact.Format {
	var video, audio []rawFormat
	for _, f := range formats {
		switch {
		case f.videoOnly():
			video = append(video, f)
		case f.audioOnly():
			audio = append(audio, f)
		}
	}
	sort.SliceStable(audio, func(i, j int) bool { return audio[i].ABR > audio[j].ABR })
	if len(audio) > maxAudio {
		audio = audio[:maxAudio]
	}
	sort.SliceStable(video, func(i, j int) bool { return video[i].Height > video[j].Height })

	out := make([]artifact.Format, 0, len(video)*len(audio)+len(audio))
	for _, v := range video {
		if v.Ext == "webm" || v.FormatNote == nil {
			continue
		}
		for _, a := range audio {
			abr := round1(a.ABR)
			if abr <= minAudioBitrate {
				continue
			}
			label := fmt.Sprintf("%dp (%s) [Audio: %gKbps]", v.Height, v.Ext, abr)
			if strings.EqualFold(v.note(), "premium") {
				label += " [PREMIUM]"
			}
			out = append(out, artifact.Format{
				Type:        "video+audio",
				Format:      v.FormatID + "+" + a.FormatID,
				Label:       label,
				VideoFormat: v.FormatID,
				AudioFormat: a.FormatID,
				Note:        v.note(),
			})
		}
	}
	for _, a := range audio {
		out = append(out, artifact.Format{
			Type:        "audio-only",
			Format:      a.FormatID,
			Label:       fmt.Sprintf("Audio only: %gkbps (%s)", round1(a.ABR), a.Ext),
			AudioFormat: a.FormatID,
			Note:        a.note(),
		})
	}
	return out
}

func buildSubtitles(manual, automatic map[string][]rawSub) *artifact.SubtitleIndex {
	if len(manual) == 0 && len(automatic) == 0 {
		return nil
	}
	idx := &artifact.SubtitleIndex{Tracks: make(map[string]artifact.SubtitleTrack)}
	add := func(subs map[string][]rawSub, auto bool) {
		for lang, entries := range subs {
			if lang == "live_chat" || len(entries) == 0 {
				continue
			}
			if _, exists := idx.Tracks[lang]; exists {
				continue
			}
			track := artifact.SubtitleTrack{LanguageCode: lang, LanguageName: lang}
			if entries[0].Name != "" {
				track.LanguageName = entries[0].Name
			}
			for _, e := range entries {
				track.Formats = append(track.Formats, artifact.SubtitleFormat{Ext: e.Ext, URL: e.URL, Name: e.Name})
			}
			idx.Tracks[lang] = track
			if auto {
				idx.AutomaticCaptions = true
			} else {
				idx.ManualCaptions = true
			}
		}
	}
	add(manual, false)
	add(automatic, true)
	if len(idx.Tracks) == 0 {
		return nil
	}
	return idx
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
