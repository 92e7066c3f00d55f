package model

import "fmt"

// Detection 推理服务返回的单个检测实例，x/y 为中心点
type Detection struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id,omitempty"`
	Confidence  float64 `json:"confidence"`
	DetectionID string  `json:"detection_id,omitempty"`
	Mask        string  `json:"mask,omitempty"` // base64 编码的实例掩码
}

// Box 边界框四个边的坐标，不做图像边界裁剪
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Box 由中心点和宽高换算边界框
func (d Detection) Box() Box {
	return Box{
		Left:   d.X - d.Width/2,
		Top:    d.Y - d.Height/2,
		Right:  d.X + d.Width/2,
		Bottom: d.Y + d.Height/2,
	}
}

func (b Box) Width() float64 {
	return b.Right - b.Left
}

func (b Box) Height() float64 {
	return b.Bottom - b.Top
}

// PredictionSet 一次推理返回的检测序列，顺序没有语义
type PredictionSet []Detection

// ImageInfo 推理服务看到的图像尺寸
type ImageInfo struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// InferenceResult 推理接口 200 响应体
type InferenceResult struct {
	InferenceID string        `json:"inference_id,omitempty"`
	Time        float64       `json:"time,omitempty"`
	Image       ImageInfo     `json:"image"`
	Predictions PredictionSet `json:"predictions"`
	Mask        string        `json:"mask,omitempty"` // 整帧掩码，可能带 data URL 前缀
}

// InferenceFailure 传输错误或非 200 响应
type InferenceFailure struct {
	HTTPStatus int
	RawBody    string
	Err        error
}

func (f *InferenceFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("inference failed (status %d): %v", f.HTTPStatus, f.Err)
	}
	return fmt.Sprintf("inference failed (status %d): %s", f.HTTPStatus, f.RawBody)
}

func (f *InferenceFailure) Unwrap() error {
	return f.Err
}
