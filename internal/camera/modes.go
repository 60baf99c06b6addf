package camera

import (
	"fmt"
	"strings"
)

// AWBMode selects the automatic white balance algorithm.
type AWBMode string

const (
	AWBAuto        AWBMode = "auto"
	AWBIndoor      AWBMode = "indoor"
	AWBTungsten    AWBMode = "tungsten"
	AWBFluorescent AWBMode = "fluorescent"
	AWBOutdoor     AWBMode = "outdoor"
	AWBCloudy      AWBMode = "cloudy"
	AWBCustom      AWBMode = "custom"
)

var awbCodes = map[AWBMode]int{
	AWBAuto:        0,
	AWBIndoor:      1,
	AWBTungsten:    2,
	AWBFluorescent: 3,
	AWBOutdoor:     4,
	AWBCloudy:      5,
	AWBCustom:      6,
}

// ParseAWBMode normalizes a user supplied AWB mode name.
func ParseAWBMode(value string) (AWBMode, error) {
	mode := AWBMode(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := awbCodes[mode]; !ok {
		return "", fmt.Errorf("unknown awb mode %q", value)
	}
	return mode, nil
}

// Code returns the libcamera AwbMode control value. Unknown modes map to auto.
func (m AWBMode) Code() int {
	return awbCodes[m]
}

// Valid reports whether m is one of the supported AWB modes.
func (m AWBMode) Valid() bool {
	_, ok := awbCodes[m]
	return ok
}

// Encoding is the output image encoding.
type Encoding string

const (
	EncodingJPG    Encoding = "jpg"
	EncodingPNG    Encoding = "png"
	EncodingBMP    Encoding = "bmp"
	EncodingRGB    Encoding = "rgb"
	EncodingYUV420 Encoding = "yuv420"
)

// ParseEncoding normalizes an encoding name. "jpeg" is accepted as an alias.
func ParseEncoding(value string) (Encoding, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "jpeg" {
		normalized = string(EncodingJPG)
	}
	enc := Encoding(normalized)
	if !enc.Valid() {
		return "", fmt.Errorf("unknown encoding %q", value)
	}
	return enc, nil
}

// Valid reports whether e is a supported encoding.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingJPG, EncodingPNG, EncodingBMP, EncodingRGB, EncodingYUV420:
		return true
	}
	return false
}

// Extension returns the file extension (without the dot) used for artifacts.
func (e Encoding) Extension() string {
	if e == "" {
		return string(EncodingJPG)
	}
	return string(e)
}

// MIMEType returns the mimetype recorded in the manifest for the encoding.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingJPG, "":
		return "image/jpeg"
	case EncodingPNG:
		return "image/png"
	case EncodingBMP:
		return "image/bmp"
	default:
		return "image/" + string(e)
	}
}
