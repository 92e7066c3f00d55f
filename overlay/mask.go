package overlay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
)

var errEmptyMask = errors.New("empty mask payload")

// MaskRefiner 在合成前处理单通道实例掩码
type MaskRefiner interface {
	Refine(mask *image.Gray) (*image.Gray, error)
}

// StripDataURL 去掉 data:image/...;base64, 前缀
func StripDataURL(b64 string) string {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		return b64[i+1:]
	}
	return b64
}

// DecodeMask 解码 base64 掩码图像
func DecodeMask(b64 string) (image.Image, error) {
	b64 = strings.TrimSpace(StripDataURL(b64))
	if b64 == "" {
		return nil, errEmptyMask
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mask image: %w", err)
	}
	return img, nil
}

// ToGray 转为原点在 (0,0) 的单通道图像
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Colorize 把掩码亮度映射到纯色：黑 -> 黑，白 -> c，c 的 alpha 不参与
func Colorize(mask *image.Gray, c color.RGBA) *image.RGBA {
	out := image.NewRGBA(mask.Bounds())
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := uint32(mask.GrayAt(x, y).Y)
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(uint32(c.R) * v / 255),
				G: uint8(uint32(c.G) * v / 255),
				B: uint8(uint32(c.B) * v / 255),
				A: 255,
			})
		}
	}
	return out
}

// alphaOf 以掩码亮度作为 alpha 通道
func alphaOf(mask *image.Gray) *image.Alpha {
	pix := make([]uint8, len(mask.Pix))
	copy(pix, mask.Pix)
	return &image.Alpha{Pix: pix, Stride: mask.Stride, Rect: mask.Rect}
}

// compositeMask 以掩码为 alpha 把着色后的掩码贴到 dst 左上角
func compositeMask(dst *image.RGBA, mask *image.Gray, c color.RGBA) {
	colored := Colorize(mask, c)
	r := mask.Bounds().Sub(mask.Bounds().Min).Add(dst.Bounds().Min)
	draw.DrawMask(dst, r, colored, mask.Bounds().Min, alphaOf(mask), mask.Bounds().Min, draw.Over)
}

// Flatten 返回丢弃 alpha 的不透明副本，RGB 保持不变
func Flatten(img image.Image) *image.NRGBA {
	opaque := imaging.Clone(img)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 255
	}
	return opaque
}

// compositeFrame 以固定透明度把整帧掩码贴到 dst 上
func compositeFrame(dst *image.RGBA, frame image.Image, alpha uint8) {
	draw.DrawMask(dst, dst.Bounds(), Flatten(frame), image.Point{}, image.NewUniform(color.Alpha{A: alpha}), image.Point{}, draw.Over)
}
