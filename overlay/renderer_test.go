package overlay

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slate = color.RGBA{R: 40, G: 80, B: 120, A: 255}

func testConfig(mode Mode) *config.OverlayConfig {
	return &config.OverlayConfig{
		Mode:           string(mode),
		PixelToMM:      0.1,
		BoxColor:       "#ff0000",
		LineWidth:      2,
		LabelOffset:    10,
		MaskColor:      "#ff0000",
		FrameMaskAlpha: 0.5,
		DefaultClass:   "crack",
	}
}

func newRenderer(t *testing.T, mode Mode) *Renderer {
	t.Helper()
	r, err := NewRenderer(testConfig(mode), nil)
	require.NoError(t, err)
	return r
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// maskRect 返回白色矩形、其余为黑色的掩码
func maskRect(w, h int, r image.Rectangle) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return m
}

func assertSameImage(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds(), got.Bounds())
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			wr, wg, wb, wa := want.At(x, y).RGBA()
			gr, gg, gb, ga := got.At(x, y).RGBA()
			if wr != gr || wg != gg || wb != gb || wa != ga {
				t.Fatalf("pixel (%d,%d) differs: want %v got %v", x, y, want.At(x, y), got.At(x, y))
			}
		}
	}
}

func crackResult() *model.InferenceResult {
	return &model.InferenceResult{
		Predictions: model.PredictionSet{
			{X: 100, Y: 50, Width: 40, Height: 20, Confidence: 0.8, Class: "crack"},
		},
	}
}

func TestFilter_Boundary(t *testing.T) {
	preds := model.PredictionSet{
		{Class: "a", Confidence: 0.49},
		{Class: "b", Confidence: 0.5},
		{Class: "c", Confidence: 0.9},
		{Class: "d"},
	}

	kept := Filter(preds, 0.5)
	require.Len(t, kept, 2)
	assert.Equal(t, "b", kept[0].Class)
	assert.Equal(t, "c", kept[1].Class)

	assert.Len(t, Filter(preds, 0), 4, "missing confidence only passes a zero threshold")
	assert.Empty(t, Filter(preds, 0.95))
	assert.Empty(t, Filter(nil, 0.2))
}

func TestDetectionBox(t *testing.T) {
	d := model.Detection{X: 100, Y: 50, Width: 40, Height: 20}
	box := d.Box()
	assert.Equal(t, model.Box{Left: 80, Top: 40, Right: 120, Bottom: 60}, box)
	assert.Equal(t, box, d.Box())
	assert.Less(t, box.Left, box.Right)
	assert.Less(t, box.Top, box.Bottom)
	assert.Equal(t, 40.0, box.Width())
	assert.Equal(t, 20.0, box.Height())

	// 超出图像范围的框照常返回
	out := model.Detection{X: 2, Y: 3, Width: 10, Height: 10}.Box()
	assert.Equal(t, model.Box{Left: -3, Top: -2, Right: 7, Bottom: 8}, out)
}

func TestWidthMM_Linear(t *testing.T) {
	for _, k := range []float64{0, 0.5, 2, 3, 10} {
		assert.InDelta(t, k*WidthMM(37.5, 0.1), WidthMM(k*37.5, 0.1), 1e-9)
	}
	assert.InDelta(t, 4.0, WidthMM(40, 0.1), 1e-9)
}

func TestRender_BoxesExample(t *testing.T) {
	src := solidImage(200, 100, slate)
	before := solidImage(200, 100, slate)

	res := newRenderer(t, ModeBoxes).Render(src, crackResult(), 0.5)

	assert.True(t, res.AnyDetection)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "detections (confidence ≥ 0.50):", res.Header)
	require.Len(t, res.SummaryLines, 1)
	assert.Equal(t, "crack (confidence 0.80): position (100.0, 50.0), width 40.0px (≈4.0mm), height 20.0px", res.SummaryLines[0])
	require.Len(t, res.Detections, 1)
	assert.Equal(t, model.Box{Left: 80, Top: 40, Right: 120, Bottom: 60}, res.Detections[0].Box)

	edge := color.NRGBAModel.Convert(res.AnnotatedImage.At(80, 50)).(color.NRGBA)
	assert.Greater(t, edge.R, uint8(200))
	assert.Less(t, edge.G, uint8(50))

	center := color.NRGBAModel.Convert(res.AnnotatedImage.At(100, 50)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 40, G: 80, B: 120, A: 255}, center)

	// 输入图像保持不变
	assertSameImage(t, before, src)
}

func TestRender_NothingAboveThreshold(t *testing.T) {
	src := solidImage(200, 100, slate)

	for _, mode := range []Mode{ModeBoxes, ModeInstanceMasks, ModeFrameMask} {
		t.Run(string(mode), func(t *testing.T) {
			res := newRenderer(t, mode).Render(src, crackResult(), 0.9)

			assert.False(t, res.AnyDetection)
			assert.Empty(t, res.SummaryLines)
			assert.Equal(t, []string{NothingFoundWarning}, res.Warnings)
			assertSameImage(t, src, res.AnnotatedImage)
			assert.NotSame(t, src, res.AnnotatedImage)
		})
	}
}

func TestRender_NilResult(t *testing.T) {
	src := solidImage(10, 10, slate)
	res := newRenderer(t, ModeBoxes).Render(src, nil, 0.2)
	assert.False(t, res.AnyDetection)
	assertSameImage(t, src, res.AnnotatedImage)
}

func TestRender_WithoutMillimeterScale(t *testing.T) {
	cfg := testConfig(ModeBoxes)
	cfg.PixelToMM = 0
	r, err := NewRenderer(cfg, nil)
	require.NoError(t, err)

	res := r.Render(solidImage(200, 100, slate), crackResult(), 0.5)
	require.Len(t, res.SummaryLines, 1)
	assert.Equal(t, "crack (confidence 0.80): position (100.0, 50.0), width 40.0px, height 20.0px", res.SummaryLines[0])
}

func TestRender_DefaultClass(t *testing.T) {
	in := &model.InferenceResult{Predictions: model.PredictionSet{{X: 10, Y: 10, Width: 4, Height: 4, Confidence: 1}}}
	res := newRenderer(t, ModeBoxes).Render(solidImage(20, 20, slate), in, 0.2)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "crack", res.Detections[0].Class)
}

func TestRender_InstanceMasks(t *testing.T) {
	src := solidImage(20, 20, slate)
	first := encodePNG(t, maskRect(20, 20, image.Rect(0, 0, 10, 10)))
	second := encodePNG(t, maskRect(20, 20, image.Rect(5, 5, 15, 15)))

	cfg := testConfig(ModeInstanceMasks)
	r, err := NewRenderer(cfg, nil)
	require.NoError(t, err)

	in := &model.InferenceResult{Predictions: model.PredictionSet{
		{X: 5, Y: 5, Width: 10, Height: 10, Confidence: 0.9, Mask: first},
		{X: 10, Y: 10, Width: 10, Height: 10, Confidence: 0.9, Mask: "data:image/png;base64," + second},
	}}
	res := r.Render(src, in, 0.2)

	assert.True(t, res.AnyDetection)
	assert.Empty(t, res.Warnings)
	assert.Len(t, res.SummaryLines, 2)

	red := color.NRGBA{R: 255, A: 255}
	assert.Equal(t, red, color.NRGBAModel.Convert(res.AnnotatedImage.At(2, 2)))
	assert.Equal(t, red, color.NRGBAModel.Convert(res.AnnotatedImage.At(12, 12)))
	assert.Equal(t, color.NRGBA{R: 40, G: 80, B: 120, A: 255}, color.NRGBAModel.Convert(res.AnnotatedImage.At(18, 2)))
}

func TestRender_InstanceMasksPaintedInOrder(t *testing.T) {
	src := solidImage(4, 4, color.RGBA{A: 255})
	full := maskRect(4, 4, image.Rect(0, 0, 4, 4))
	half := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range half.Pix {
		half.Pix[i] = 128
	}

	in := &model.InferenceResult{Predictions: model.PredictionSet{
		{Confidence: 1, Mask: encodePNG(t, full)},
		{Confidence: 1, Mask: encodePNG(t, half)},
	}}
	res := newRenderer(t, ModeInstanceMasks).Render(src, in, 0)

	// 先贴满红色，再以一半强度贴暗红：约 128*0.5 + 255*0.5
	px := color.NRGBAModel.Convert(res.AnnotatedImage.At(1, 1)).(color.NRGBA)
	assert.InDelta(t, 191, int(px.R), 2)

	in.Predictions[0], in.Predictions[1] = in.Predictions[1], in.Predictions[0]
	res = newRenderer(t, ModeInstanceMasks).Render(src, in, 0)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, color.NRGBAModel.Convert(res.AnnotatedImage.At(1, 1)))
}

func TestRender_HalfIntensityMaskBlends(t *testing.T) {
	src := solidImage(4, 4, color.RGBA{A: 255})
	m := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	m.SetGray(0, 0, color.Gray{Y: 128})

	in := &model.InferenceResult{Predictions: model.PredictionSet{{Confidence: 1, Mask: encodePNG(t, m)}}}
	res := newRenderer(t, ModeInstanceMasks).Render(src, in, 0.5)

	px := color.NRGBAModel.Convert(res.AnnotatedImage.At(0, 0)).(color.NRGBA)
	// 颜色 128/255 * 255，再按 128/255 混合到黑色上
	assert.InDelta(t, 64, int(px.R), 2)
	assert.Equal(t, uint8(0), px.G)
}

func TestRender_MissingOrBrokenMaskIsWarning(t *testing.T) {
	src := solidImage(10, 10, slate)
	in := &model.InferenceResult{Predictions: model.PredictionSet{
		{Class: "crack", Confidence: 0.9},
		{Class: "crack", Confidence: 0.9, Mask: "not-base64!"},
		{Class: "crack", Confidence: 0.9, Mask: base64.StdEncoding.EncodeToString([]byte("not an image"))},
	}}

	res := newRenderer(t, ModeInstanceMasks).Render(src, in, 0.2)

	assert.True(t, res.AnyDetection)
	assert.Len(t, res.SummaryLines, 3)
	require.Len(t, res.Warnings, 3)
	for _, w := range res.Warnings {
		assert.Contains(t, w, "no segmentation available")
	}
	assertSameImage(t, src, res.AnnotatedImage)
}

type stubRefiner struct {
	calls int
}

func (s *stubRefiner) Refine(mask *image.Gray) (*image.Gray, error) {
	s.calls++
	return image.NewGray(mask.Bounds()), nil
}

func TestRender_RefinerApplied(t *testing.T) {
	refiner := &stubRefiner{}
	r, err := NewRenderer(testConfig(ModeInstanceMasks), refiner)
	require.NoError(t, err)

	src := solidImage(10, 10, slate)
	in := &model.InferenceResult{Predictions: model.PredictionSet{
		{Confidence: 1, Mask: encodePNG(t, maskRect(10, 10, image.Rect(0, 0, 10, 10)))},
	}}
	res := r.Render(src, in, 0.2)

	assert.Equal(t, 1, refiner.calls)
	// 替换后的掩码全黑，图像不变
	assertSameImage(t, src, res.AnnotatedImage)
}

func TestRender_FrameMask(t *testing.T) {
	src := solidImage(8, 8, color.RGBA{A: 255})
	frame := solidImage(8, 8, color.RGBA{R: 255, A: 255})

	in := crackResult()
	in.Mask = "data:image/png;base64," + encodePNG(t, frame)

	res := newRenderer(t, ModeFrameMask).Render(src, in, 0.5)

	assert.True(t, res.AnyDetection)
	assert.Empty(t, res.Warnings)
	px := color.NRGBAModel.Convert(res.AnnotatedImage.At(3, 3)).(color.NRGBA)
	assert.InDelta(t, 128, int(px.R), 2)
	assert.Equal(t, uint8(255), px.A)
}

func TestRender_FrameMaskMissing(t *testing.T) {
	src := solidImage(8, 8, slate)
	res := newRenderer(t, ModeFrameMask).Render(src, crackResult(), 0.5)

	assert.True(t, res.AnyDetection)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no segmentation available")
	assertSameImage(t, src, res.AnnotatedImage)
}

func TestWithMode(t *testing.T) {
	r := newRenderer(t, ModeBoxes)
	m := r.WithMode(ModeFrameMask)
	assert.Equal(t, ModeBoxes, r.Mode())
	assert.Equal(t, ModeFrameMask, m.Mode())
}

func TestNewRenderer_InvalidConfig(t *testing.T) {
	cfg := testConfig("circles")
	_, err := NewRenderer(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(ModeBoxes)
	cfg.BoxColor = "red"
	_, err = NewRenderer(cfg, nil)
	assert.Error(t, err)
}

func translucentImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 150, B: 100, A: 100})
		}
	}
	return img
}

func TestFlatten(t *testing.T) {
	src := translucentImage(4, 4)
	flat := Flatten(src)

	assert.Equal(t, color.NRGBA{R: 200, G: 150, B: 100, A: 255}, flat.NRGBAAt(2, 2))
	assert.Equal(t, uint8(100), src.NRGBAAt(2, 2).A)
}

func TestRender_TranslucentSourceUnchangedWhenEmpty(t *testing.T) {
	flat := Flatten(translucentImage(4, 4))

	for _, mode := range []Mode{ModeBoxes, ModeInstanceMasks, ModeFrameMask} {
		res := newRenderer(t, mode).Render(flat, crackResult(), 0.9)
		assert.False(t, res.AnyDetection)
		assertSameImage(t, flat, res.AnnotatedImage)
	}
}

func TestNewRenderer_TranslucentMaskColor(t *testing.T) {
	cfg := testConfig(ModeInstanceMasks)
	cfg.MaskColor = "#ff000080"
	_, err := NewRenderer(cfg, nil)
	assert.Error(t, err)

	cfg.MaskColor = "#ff0000ff"
	_, err = NewRenderer(cfg, nil)
	assert.NoError(t, err)
}
