package domain

import (
	"fmt"
	"image/color"
	"strings"
)

type Format string

const (
	JPG Format = "jpg"
	PNG Format = "png"
)

// ParseFormat maps user input onto a supported output format. "jpeg" is accepted as an alias of "jpg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpg", "jpeg":
		return JPG, nil
	case "png":
		return PNG, nil
	default:
		return "", fmt.Errorf("%w: %q, must be jpg or png", ErrUnsupportedFormat, s)
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) String() string {
	return strings.ToUpper(string(f))
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type MergeOptions struct {
	// TargetHeight of the canvas in pixels. Nil resolves to the taller of the two inputs.
	TargetHeight *int
	// Background fills the canvas and is what transparent pixels get flattened onto. Nil means white.
	Background color.Color
}

type MergeRequest struct {
	ModelImage   []byte
	ProductImage []byte
	TargetHeight *int
	Format       Format
}

type MergeResult struct {
	Data       []byte
	Dimensions Dimensions
	Format     Format
}

type StoredResult struct {
	Filename   string
	Dimensions Dimensions
	Format     Format
}

// Pixels returns a pointer to n, for optional height fields.
func Pixels(n int) *int {
	return &n
}
