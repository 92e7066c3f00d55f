package model

import "image"

// RenderedDetection 通过阈值过滤后参与绘制的检测
type RenderedDetection struct {
	Detection
	Box Box `json:"box"`
}

// RenderResult 渲染输出，AnnotatedImage 是输入图像的独立副本
type RenderResult struct {
	AnnotatedImage image.Image
	Header         string
	SummaryLines   []string
	AnyDetection   bool
	Warnings       []string
	Detections     []RenderedDetection
}
