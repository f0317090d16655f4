package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCandidateURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/video.mp4", true},
		{"https://youtube.com/watch?v=x", true},
		{"ftp://example.com/a.mp4", false},
		{"https://example.com/page.html", false},
		{"https://www.youtube.com/watch?v=abc", true},
		{"https://m.vk.com/video1", true},
		{"https://notyoutube.com/watch?v=abc", false},
		{"HTTP://CDN.EXAMPLE.COM/CLIP.MKV?token=1", true},
		{"https://example.com/stream.m3u8#t=10", true},
		{"https://example.com/get?file=a.mp3", true},
		{"https://example.com/a.mp4.html", false},
		{"", false},
		{"not a url", false},
		{"https:///a.mp4", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsCandidateURL(tc.url), tc.url)
	}
}
