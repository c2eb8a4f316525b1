package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		filename string
		size     int64
		want     string
		wantErr  bool
	}{
		{name: "banner png", kind: KindBanner, filename: "hero.PNG", size: 1024, want: "image/png"},
		{name: "banner pdf rejected", kind: KindBanner, filename: "flyer.pdf", size: 1024, wantErr: true},
		{name: "banner too large", kind: KindBanner, filename: "hero.jpg", size: MaxBannerFileSize + 1, wantErr: true},
		{name: "material pdf", kind: KindMaterial, filename: "guidelines.pdf", size: 2048, want: "application/pdf"},
		{name: "material empty", kind: KindMaterial, filename: "slides.pptx", size: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContentType(tt.kind, tt.filename, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestKeys(t *testing.T) {
	require.Equal(t, "materials/ev-1/slides.pdf", MaterialKey("ev-1", "../../slides.pdf"))
	key := BannerKey("Hero.JPG")
	require.True(t, strings.HasPrefix(key, "banners/"))
	require.True(t, strings.HasSuffix(key, ".jpg"))
}
