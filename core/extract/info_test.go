package extract

import (
	"testing"
)

const sampleInfo = `{
  "title": "Sample Clip",
  "filename": "/tmp/x/Sample_Clip.mp4",
  "formats": [
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.478, "format_note": "medium"},
    {"format_id": "139", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.5", "abr": 48.8, "format_note": "low"},
    {"format_id": "251", "ext": "webm", "vcodec": "none", "acodec": "opus", "abr": 135.2},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "height": 1080, "format_note": "1080p"},
    {"format_id": "136", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "height": 720, "format_note": "Premium"},
    {"format_id": "248", "ext": "webm", "vcodec": "vp9", "acodec": "none", "height": 1080, "format_note": "1080p"},
    {"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "acodec": "none"},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 360}
  ],
  "subtitles": {
    "en": [{"ext": "json3", "url": "https://s/en.json3", "name": "English"}, {"ext": "vtt", "url": "https://s/en.vtt", "name": "English"}],
    "live_chat": [{"ext": "json", "url": "https://s/chat"}]
  },
  "automatic_captions": {
    "de": [{"ext": "srv3", "url": "https://s/de?kind=asr"}],
    "en": [{"ext": "vtt", "url": "https://s/en-auto.vtt"}]
  }
}`

func TestParseInfoFormats(t *testing.T) {
	md, err := ParseInfo([]byte(sampleInfo), 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if md.Title != "Sample Clip" || md.Filename != "Sample_Clip.mp4" {
		t.Fatalf("unexpected title/filename %q %q", md.Title, md.Filename)
	}
	want := []string{"137+251", "137+140", "136+251", "136+140", "251", "140"}
	if len(md.Formats) != len(want) {
		t.Fatalf("expected %d formats, got %d: %+v", len(want), len(md.Formats), md.Formats)
	}
	for i, f := range want {
		if md.Formats[i].Format != f {
			t.Fatalf("format %d: expected %s, got %s", i, f, md.Formats[i].Format)
		}
	}
	if md.Formats[0].Type != "video+audio" || md.Formats[0].Label != "1080p (mp4) [Audio: 135.2Kbps]" {
		t.Fatalf("unexpected first format %+v", md.Formats[0])
	}
	if md.Formats[2].Label != "720p (mp4) [Audio: 135.2Kbps] [PREMIUM]" {
		t.Fatalf("expected premium label, got %q", md.Formats[2].Label)
	}
	last := md.Formats[len(md.Formats)-1]
	if last.Type != "audio-only" || last.Label != "Audio only: 129.5kbps (m4a)" || last.VideoFormat != "" {
		t.Fatalf("unexpected audio-only entry %+v", last)
	}
}

func TestParseInfoSubtitles(t *testing.T) {
	md, err := ParseInfo([]byte(sampleInfo), 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	subs := md.Subtitles
	if subs == nil || !subs.ManualCaptions || !subs.AutomaticCaptions {
		t.Fatalf("expected manual and automatic captions, got %+v", subs)
	}
	if _, ok := subs.Tracks["live_chat"]; ok {
		t.Fatalf("expected live chat skipped")
	}
	en := subs.Tracks["en"]
	if en.LanguageName != "English" || len(en.Formats) != 2 {
		t.Fatalf("expected manual english track to win, got %+v", en)
	}
	best, ok := en.BestFormat()
	if !ok || best.Ext != "vtt" {
		t.Fatalf("expected vtt preferred, got %+v", best)
	}
	if de := subs.Tracks["de"]; de.LanguageName != "de" {
		t.Fatalf("expected language code as name, got %+v", de)
	}
}

func TestParseInfoNoSubtitles(t *testing.T) {
	md, err := ParseInfo([]byte(`{"title":"x","_filename":"a/b.webm"}`), 3)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if md.Subtitles != nil || len(md.Formats) != 0 || md.Filename != "b.webm" {
		t.Fatalf("unexpected metadata %+v", md)
	}
}

func TestParseInfoInvalid(t *testing.T) {
	if _, err := ParseInfo([]byte("not json"), 3); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewOptions(t *testing.T) {
	y := New(WithCookieFile("  ./cookie.txt "), WithMaxAudio(0))
	if y.cookieFile != "./cookie.txt" || y.maxAudio != defaultMaxAudio {
		t.Fatalf("unexpected options %+v", y)
	}
	if New(WithMaxAudio(5)).maxAudio != 5 {
		t.Fatalf("expected max audio override")
	}
}
