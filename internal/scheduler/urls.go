package scheduler

import (
	"net/url"
	"regexp"
	"strings"
)

// SupportedHosts are the media sites a URL may point at (the host itself or
// any subdomain of it).
var SupportedHosts = []string{
	"youtube.com",
	"youtu.be",
	"x.com",
	"twitter.com",
	"instagram.com",
	"tiktok.com",
	"twitch.tv",
	"vimeo.com",
	"dailymotion.com",
	"reddit.com",
	"redd.it",
	"vk.com",
	"rutube.ru",
	"ok.ru",
	"facebook.com",
	"fb.watch",
	"bilibili.com",
	"streamable.com",
	"soundcloud.com",
}

var directMediaPath = regexp.MustCompile(`(?i)\.(mp4|m4v|mov|webm|mkv|m3u8|mp3|m4a|wav|flac)(?:$|[?#])`)

// IsCandidateURL reports whether raw is an http(s) URL that either names a
// media file directly or lives on a supported host.
func IsCandidateURL(raw string) bool {
	value := strings.TrimSpace(raw)
	if value == "" {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	pathAndQuery := u.EscapedPath()
	if u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}
	if directMediaPath.MatchString(pathAndQuery) {
		return true
	}
	for _, h := range SupportedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
