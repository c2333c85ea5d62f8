package storage

import (
	"bytes"
	"image"
	_ "image/gif" // register decoders for image.Decode sniffing
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/webp"
)

// Transcoded is the outcome of a successful re-encode.
type Transcoded struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Transcoder optionally re-encodes an image to shrink it before upload.
// Transcode returns nil when the input should be kept as-is, including every
// failure case; transcoding is strictly best-effort.
type Transcoder interface {
	Transcode(data []byte, contentType string) *Transcoded
}

// NewTranscoder selects an implementation by name. Unknown names fall back
// to noop.
func NewTranscoder(kind string, quality int) Transcoder {
	switch kind {
	case "jpeg":
		return &JPEGTranscoder{Quality: quality}
	default:
		return NoopTranscoder{}
	}
}

// NoopTranscoder keeps every image untouched.
type NoopTranscoder struct{}

func (NoopTranscoder) Transcode([]byte, string) *Transcoded { return nil }

// JPEGTranscoder decodes png/jpeg/gif/webp and re-encodes as JPEG. The
// original bytes win when decoding fails or the re-encode is not smaller.
type JPEGTranscoder struct {
	Quality int
}

func (t *JPEGTranscoder) Transcode(data []byte, contentType string) *Transcoded {
	if contentType == "image/jpeg" || contentType == "image/jpg" {
		return nil
	}

	img, err := t.decode(data, contentType)
	if err != nil {
		return nil
	}

	quality := t.Quality
	if quality <= 0 || quality > 100 {
		quality = 80
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil
	}
	if buf.Len() >= len(data) {
		return nil
	}

	return &Transcoded{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Extension:   "jpg",
	}
}

func (t *JPEGTranscoder) decode(data []byte, contentType string) (image.Image, error) {
	if contentType == "image/webp" {
		return webp.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
