package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/model"
	"github.com/fogleman/gg"
)

// NothingFoundWarning 过滤后没有检测时的提示
const NothingFoundWarning = "no detections at or above the selected confidence threshold"

// Renderer 把检测结果叠加到输入图像的副本上，不修改输入
type Renderer struct {
	mode         Mode
	pixelToMM    float64
	boxColor     color.RGBA
	lineWidth    float64
	labelOffset  float64
	maskColor    color.RGBA
	frameAlpha   uint8
	defaultClass string
	refiner      MaskRefiner
}

// NewRenderer 根据配置创建渲染器，refiner 可以为 nil
func NewRenderer(cfg *config.OverlayConfig, refiner MaskRefiner) (*Renderer, error) {
	mode, err := ParseMode(cfg.Mode, ModeBoxes)
	if err != nil {
		return nil, err
	}
	boxColor, err := ParseHexColor(cfg.BoxColor)
	if err != nil {
		return nil, fmt.Errorf("box_color: %w", err)
	}
	maskColor, err := ParseHexColor(cfg.MaskColor)
	if err != nil {
		return nil, fmt.Errorf("mask_color: %w", err)
	}
	// 掩码本身即 alpha 通道
	if maskColor.A != 255 {
		return nil, fmt.Errorf("mask_color: must be opaque, got %q", cfg.MaskColor)
	}

	return &Renderer{
		mode:         mode,
		pixelToMM:    cfg.PixelToMM,
		boxColor:     boxColor,
		lineWidth:    cfg.LineWidth,
		labelOffset:  cfg.LabelOffset,
		maskColor:    maskColor,
		frameAlpha:   uint8(math.Round(cfg.FrameMaskAlpha * 255)),
		defaultClass: cfg.DefaultClass,
		refiner:      refiner,
	}, nil
}

// WithMode 返回使用另一种叠加方式的渲染器
func (r *Renderer) WithMode(mode Mode) *Renderer {
	cp := *r
	cp.mode = mode
	return &cp
}

func (r *Renderer) Mode() Mode {
	return r.mode
}

// Filter 保留 confidence >= threshold 的检测，保持原顺序
func Filter(preds model.PredictionSet, threshold float64) model.PredictionSet {
	kept := make(model.PredictionSet, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= threshold {
			kept = append(kept, p)
		}
	}
	return kept
}

// WidthMM 像素宽度按固定比例换算为毫米
func WidthMM(widthPx, scale float64) float64 {
	return widthPx * scale
}

// Render 过滤、绘制并生成每个检测的摘要
func (r *Renderer) Render(img image.Image, res *model.InferenceResult, threshold float64) *model.RenderResult {
	dc := gg.NewContextForImage(img)
	canvas := dc.Image().(*image.RGBA)

	var preds model.PredictionSet
	if res != nil {
		preds = res.Predictions
	}
	kept := Filter(preds, threshold)

	result := &model.RenderResult{
		Header:       fmt.Sprintf("detections (confidence ≥ %.2f):", threshold),
		AnyDetection: len(kept) > 0,
		SummaryLines: make([]string, 0, len(kept)),
		Detections:   make([]model.RenderedDetection, 0, len(kept)),
	}

	for i, det := range kept {
		if det.Class == "" {
			det.Class = r.defaultClass
		}
		box := det.Box()

		switch r.mode {
		case ModeBoxes:
			r.drawBox(dc, det.Class, box)
		case ModeInstanceMasks:
			if err := r.paintInstanceMask(canvas, det); err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("detection %d (%s): no segmentation available: %v", i+1, det.Class, err))
			}
		}

		result.SummaryLines = append(result.SummaryLines, r.summaryLine(det))
		result.Detections = append(result.Detections, model.RenderedDetection{Detection: det, Box: box})
	}

	if r.mode == ModeFrameMask && result.AnyDetection {
		if err := r.paintFrameMask(canvas, res.Mask); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no segmentation available: %v", err))
		}
	}

	if !result.AnyDetection {
		result.Warnings = append(result.Warnings, NothingFoundWarning)
	}

	result.AnnotatedImage = canvas
	return result
}

func (r *Renderer) drawBox(dc *gg.Context, label string, box model.Box) {
	dc.SetColor(r.boxColor)
	dc.SetLineWidth(r.lineWidth)
	dc.DrawRectangle(box.Left, box.Top, box.Width(), box.Height())
	dc.Stroke()
	dc.DrawString(label, box.Left, box.Top-r.labelOffset)
}

func (r *Renderer) paintInstanceMask(canvas *image.RGBA, det model.Detection) error {
	img, err := DecodeMask(det.Mask)
	if err != nil {
		return err
	}
	mask := ToGray(img)

	if r.refiner != nil {
		refined, err := r.refiner.Refine(mask)
		if err != nil {
			return fmt.Errorf("refine mask: %w", err)
		}
		mask = refined
	}

	compositeMask(canvas, mask, r.maskColor)
	return nil
}

func (r *Renderer) paintFrameMask(canvas *image.RGBA, b64 string) error {
	frame, err := DecodeMask(b64)
	if err != nil {
		return err
	}
	compositeFrame(canvas, frame, r.frameAlpha)
	return nil
}

func (r *Renderer) summaryLine(d model.Detection) string {
	if r.pixelToMM > 0 {
		return fmt.Sprintf("%s (confidence %.2f): position (%.1f, %.1f), width %.1fpx (≈%.1fmm), height %.1fpx",
			d.Class, d.Confidence, d.X, d.Y, d.Width, WidthMM(d.Width, r.pixelToMM), d.Height)
	}
	return fmt.Sprintf("%s (confidence %.2f): position (%.1f, %.1f), width %.1fpx, height %.1fpx",
		d.Class, d.Confidence, d.X, d.Y, d.Width, d.Height)
}
