package sharpness

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func grayImage(w, h int, fn func(x, y int) uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fn(x, y)})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestScoreImage_FlatFrameIsZero(t *testing.T) {
	img := grayImage(16, 12, func(int, int) uint8 { return 128 })
	assert.Zero(t, ScoreImage(img))
}

func TestScoreImage_SingleStep(t *testing.T) {
	// 4×3, left two columns 0, right two columns 10. Only the two columns
	// around the step see a gradient: gx = 4·10 = 40 on each of 3 rows.
	img := grayImage(4, 3, func(x, _ int) uint8 {
		if x >= 2 {
			return 10
		}
		return 0
	})
	assert.Equal(t, float64(2*3*40*40), ScoreImage(img))
}

func TestScoreImage_StripesSharperThanRamp(t *testing.T) {
	stripes := grayImage(32, 32, func(x, _ int) uint8 {
		if (x/2)%2 == 0 {
			return 200
		}
		return 50
	})
	ramp := grayImage(32, 32, func(x, _ int) uint8 { return uint8(50 + x*150/31) })

	assert.Greater(t, ScoreImage(stripes), ScoreImage(ramp))
}

func TestScoreImage_OrientationInvariant(t *testing.T) {
	vertical := grayImage(8, 8, func(x, _ int) uint8 { return uint8(x * 20) })
	horizontal := grayImage(8, 8, func(_, y int) uint8 { return uint8(y * 20) })

	assert.Equal(t, ScoreImage(vertical), ScoreImage(horizontal))
}

func TestScoreImage_Degenerate(t *testing.T) {
	assert.Zero(t, ScoreImage(image.NewGray(image.Rect(0, 0, 0, 0))))
	assert.Zero(t, ScoreImage(grayImage(1, 1, func(int, int) uint8 { return 255 })))
}

func TestLuma_UsesBoundsOrigin(t *testing.T) {
	img := image.NewGray(image.Rect(10, 20, 12, 21))
	img.SetGray(11, 20, color.Gray{Y: 7})

	m := Luma(img)
	r, c := m.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 7.0, m.At(0, 1))
}

func TestReflect101(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{0, 5, 0},
		{4, 5, 4},
		{5, 5, 3},
		{6, 5, 2},
		{-1, 2, 1},
		{2, 2, 0},
		{-1, 1, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reflect101(tc.i, tc.n), "i=%d n=%d", tc.i, tc.n)
	}
}

func TestTenengrad_ScoreFile(t *testing.T) {
	img := grayImage(8, 8, func(x, y int) uint8 { return uint8((x + y) * 10) })
	path := writePNG(t, img)

	got, err := Tenengrad{}.Score(path)
	require.NoError(t, err)
	assert.Equal(t, ScoreImage(img), got)
}

func TestTenengrad_DecodesJPEGAndBMP(t *testing.T) {
	img := grayImage(16, 16, func(x, _ int) uint8 {
		if x < 8 {
			return 0
		}
		return 255
	})
	dir := t.TempDir()

	jpgPath := filepath.Join(dir, "frame.jpg")
	f, err := os.Create(jpgPath)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
	require.NoError(t, f.Close())

	bmpPath := filepath.Join(dir, "frame.bmp")
	f, err = os.Create(bmpPath)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, img))
	require.NoError(t, f.Close())

	for _, path := range []string{jpgPath, bmpPath} {
		score, err := Tenengrad{}.Score(path)
		require.NoError(t, err, path)
		assert.Greater(t, score, 0.0, path)
	}

	bmpScore, _ := Tenengrad{}.Score(bmpPath)
	assert.Equal(t, ScoreImage(img), bmpScore, "bmp is lossless")
}

func TestTenengrad_Errors(t *testing.T) {
	_, err := Tenengrad{}.Score(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
	_, err = Tenengrad{}.Score(path)
	assert.Error(t, err)
}
