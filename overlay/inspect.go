package overlay

import (
	"image"
	"image/color"
)

// PixelAt 返回 (x, y) 处的颜色，坐标相对图像左上角；越界时 ok 为 false
func PixelAt(img image.Image, x, y int) (c color.NRGBA, ok bool) {
	b := img.Bounds()
	p := image.Pt(x, y).Add(b.Min)
	if !p.In(b) {
		return color.NRGBA{}, false
	}
	return color.NRGBAModel.Convert(img.At(p.X, p.Y)).(color.NRGBA), true
}
