package extract

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// maxImageDim bounds the longest side of an image sent to the model. Phone
// photos of documents are routinely 4000px+; the model does not read any
// better past ~1600px and the payload shrinks considerably.
const maxImageDim = 1600

// shrinkImage downscales oversized JPEG/PNG documents before upload. Any
// decode or encode failure returns the input unchanged; extraction then runs
// on the original bytes.
func shrinkImage(data []byte, mimeType string) ([]byte, string) {
	if mimeType != "image/jpeg" && mimeType != "image/png" {
		return data, mimeType
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mimeType
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDim && bounds.Dy() <= maxImageDim {
		return data, mimeType
	}
	resized := imaging.Fit(img, maxImageDim, maxImageDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data, mimeType
	}
	return buf.Bytes(), "image/jpeg"
}
