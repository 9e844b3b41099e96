package relay

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	_ "image/gif"
	_ "image/png"
)

const fallbackQuality = 90

// reencodeJPEG decodes a payload and re-encodes it as a plain JPEG,
// applying any EXIF orientation so the fallback renders upright.
func reencodeJPEG(payload []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	img = applyOrientation(img, readOrientation(payload))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: fallbackQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readOrientation extracts the EXIF orientation tag, defaulting to 1
// (upright) when the payload carries no usable EXIF block.
func readOrientation(payload []byte) int {
	x, err := exif.Decode(bytes.NewReader(payload))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orientation
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
