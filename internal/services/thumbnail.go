package services

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/jpeg"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	thumbnailSize    = 320
	thumbnailQuality = 85
)

// renderImageThumbnail fits the image into a 320x320 box, preserving
// aspect ratio, and encodes it as JPEG.
func renderImageThumbnail(src image.Image) ([]byte, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	scale := float64(thumbnailSize) / float64(max(w, h))
	if scale > 1 {
		scale = 1
	}
	tw := max(1, int(float64(w)*scale))
	th := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var placeholderPalette = []string{
	"#4F6D7A", "#C05761", "#6B9080", "#8E7DBE", "#D08C60", "#4A5759",
}

// renderPlaceholderThumbnail draws a tile for media without a visual
// frame: a color keyed off the filename plus the media type label.
func renderPlaceholderThumbnail(filename string, mediaType types.MediaType) ([]byte, error) {
	dc := gg.NewContext(thumbnailSize, thumbnailSize)

	h := fnv.New32a()
	h.Write([]byte(filename))
	dc.SetHexColor(placeholderPalette[int(h.Sum32())%len(placeholderPalette)])
	dc.Clear()

	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: 42}))
	dc.SetHexColor("#FFFFFF")
	dc.DrawStringAnchored(strings.ToUpper(string(mediaType)), thumbnailSize/2, thumbnailSize/2-16, 0.5, 0.5)

	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: 20}))
	label := filename
	if len(label) > 28 {
		label = label[:25] + "..."
	}
	dc.DrawStringAnchored(label, thumbnailSize/2, thumbnailSize/2+32, 0.5, 0.5)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
