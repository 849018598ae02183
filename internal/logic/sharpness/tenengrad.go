// Package sharpness scores how well focused a frame is.
package sharpness

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tenengrad scores a frame as the sum over all pixels of gx²+gy², where
// gx and gy are the 3×3 Sobel derivatives of the 8-bit luma. Borders are
// reflected without repeating the edge pixel (reflect-101). Higher is
// sharper. The zero value is ready to use.
type Tenengrad struct{}

// Score decodes the image at path and returns its Tenengrad score.
func (Tenengrad) Score(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return ScoreImage(img), nil
}

// ScoreImage returns the Tenengrad score of an already decoded image.
func ScoreImage(img image.Image) float64 {
	gray := Luma(img)
	gx, gy := sobel(gray)
	return floats.Dot(gx.RawMatrix().Data, gx.RawMatrix().Data) +
		floats.Dot(gy.RawMatrix().Data, gy.RawMatrix().Data)
}

// Luma converts img to a rows×cols matrix of 8-bit gray values.
func Luma(img image.Image) *mat.Dense {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Set(y, x, float64(g.Y))
		}
	}
	return m
}

var (
	kernelX = [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	kernelY = [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
)

func sobel(src *mat.Dense) (gx, gy *mat.Dense) {
	if src.IsEmpty() {
		return &mat.Dense{}, &mat.Dense{}
	}
	rows, cols := src.Dims()
	gx = mat.NewDense(rows, cols, nil)
	gy = mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var sx, sy float64
			for ky := 0; ky < 3; ky++ {
				yy := reflect101(y+ky-1, rows)
				for kx := 0; kx < 3; kx++ {
					v := src.At(yy, reflect101(x+kx-1, cols))
					sx += kernelX[ky][kx] * v
					sy += kernelY[ky][kx] * v
				}
			}
			gx.Set(y, x, sx)
			gy.Set(y, x, sy)
		}
	}
	return gx, gy
}

// reflect101 maps an out-of-range index onto gfedcb|abcdefgh|gfedcba.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}
