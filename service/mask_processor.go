package service

import (
	"fmt"
	"image"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/overlay"
	"gocv.io/x/gocv"
)

// MaskProcessor 合成前清理实例掩码：二值化、开闭运算、可选的边缘平滑
type MaskProcessor struct {
	kernelSize  int
	refineEdges bool
}

func NewMaskProcessor(cfg *config.OverlayConfig) *MaskProcessor {
	kernelSize := cfg.RefineKernel
	if kernelSize < 1 {
		kernelSize = 3
	}
	return &MaskProcessor{
		kernelSize:  kernelSize,
		refineEdges: cfg.RefineEdges,
	}
}

// Refine 实现 overlay.MaskRefiner
func (mp *MaskProcessor) Refine(mask *image.Gray) (*image.Gray, error) {
	src, err := gocv.ImageGrayToMatGray(mask)
	if err != nil {
		return nil, fmt.Errorf("convert mask: %w", err)
	}
	defer src.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(src, &binary, 127, 255, gocv.ThresholdBinary)

	refined := mp.MorphologyOptimize(&binary, mp.kernelSize)
	if mp.refineEdges {
		smoothed := mp.RefineEdges(&refined)
		refined.Close()
		refined = smoothed
	}
	defer refined.Close()

	img, err := refined.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert mask back: %w", err)
	}
	return overlay.ToGray(img), nil
}

// MorphologyOptimize 开运算去噪点，闭运算补小孔
func (mp *MaskProcessor) MorphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}

// RefineEdges 平滑掩码边缘
func (mp *MaskProcessor) RefineEdges(mask *gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 2, Y: 2})
	defer kernel.Close()

	dilated := gocv.NewMat()
	gocv.Dilate(*mask, &dilated, kernel)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(dilated, &blurred, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)
	dilated.Close()

	final := gocv.NewMat()
	gocv.Threshold(blurred, &final, 127, 255, gocv.ThresholdBinary)
	blurred.Close()

	return final
}
