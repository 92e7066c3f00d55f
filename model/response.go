package model

// DetectionView 返回给前端的单个检测
type DetectionView struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Box        Box     `json:"box"`
	HasMask    bool    `json:"has_mask"`
}

// DetectData 检测结果
type DetectData struct {
	MD5          string          `json:"md5"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	Threshold    float64         `json:"threshold"`
	Mode         string          `json:"mode"`
	AnyDetection bool            `json:"any_detection"`
	Cached       bool            `json:"cached"`
	Header       string          `json:"header"`
	Summary      []string        `json:"summary"`
	Warnings     []string        `json:"warnings"`
	Detections   []DetectionView `json:"detections"`
	Image        string          `json:"image"` // data:image/png;base64,...
}

// DetectResponse 检测响应
type DetectResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    *DetectData `json:"data,omitempty"`
}

// PixelData 像素查看结果，Inside 为 false 时不包含颜色
type PixelData struct {
	Inside bool  `json:"inside"`
	X      int   `json:"x"`
	Y      int   `json:"y"`
	R      uint8 `json:"r"`
	G      uint8 `json:"g"`
	B      uint8 `json:"b"`
}

type PixelResponse struct {
	Success bool       `json:"success"`
	Data    *PixelData `json:"data,omitempty"`
}

// PredictionsResponse 缓存中的原始推理结果
type PredictionsResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *InferenceResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Error          string `json:"error,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}
