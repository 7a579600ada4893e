package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveUploadName(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		title    string
		source   string
		want     string
	}{
		{name: "explicit wins", explicit: "final.mkv", title: "Trip", source: "/media/raw.mp4", want: "final.mkv"},
		{name: "title keeps source extension", title: "Summer Trip", source: "/media/raw.mp4", want: "Summer Trip.mp4"},
		{name: "title is trimmed", title: "  Summer  ", source: "raw.webm", want: "Summer.webm"},
		{name: "separators in title", title: "AC/DC - Live", source: "/media/x.mp3", want: "AC_DC - Live.mp3"},
		{name: "source without extension", title: "Notes", source: "/media/README", want: "Notes"},
		{name: "no title uses base name", source: "/media/2024/raw.mp4", want: "raw.mp4"},
		{name: "blank title uses base name", title: "   ", source: "raw.mp4", want: "raw.mp4"},
		{name: "only last extension", title: "Backup", source: "/media/site.tar.gz", want: "Backup.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveUploadName(tt.explicit, tt.title, tt.source))
		})
	}
}
