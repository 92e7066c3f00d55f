package service

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/TIANLI0/CrackKit/model"
	"github.com/TIANLI0/CrackKit/monitor"
	"github.com/TIANLI0/CrackKit/overlay"
	"github.com/TIANLI0/CrackKit/utils"
	"go.uber.org/zap"
)

// DetectRequest 一次上传对应的检测请求
type DetectRequest struct {
	Image     image.Image
	MD5       string
	Threshold float64
	Mode      overlay.Mode
}

// DetectOutcome 渲染结果以及推理结果是否来自缓存
type DetectOutcome struct {
	Result *model.RenderResult
	Mode   overlay.Mode
	Cached bool
}

// DetectService 串联推理客户端和渲染器
type DetectService struct {
	inferencer Inferencer
	renderer   *overlay.Renderer
	cache      PredictionCache
	cacheScope string
	metrics    *monitor.Metrics
}

// NewDetectService cache 和 metrics 可以为 nil
func NewDetectService(inferencer Inferencer, renderer *overlay.Renderer, cache PredictionCache, cacheScope string, metrics *monitor.Metrics) *DetectService {
	return &DetectService{
		inferencer: inferencer,
		renderer:   renderer,
		cache:      cache,
		cacheScope: cacheScope,
		metrics:    metrics,
	}
}

// DefaultMode 配置中的叠加方式
func (s *DetectService) DefaultMode() overlay.Mode {
	return s.renderer.Mode()
}

// Detect 调用推理服务并渲染，推理失败时返回 *model.InferenceFailure
func (s *DetectService) Detect(ctx context.Context, req DetectRequest) (*DetectOutcome, error) {
	result, cached, err := s.infer(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = s.renderer.Mode()
	}
	rendered := s.renderer.WithMode(mode).Render(req.Image, result, req.Threshold)
	s.metrics.ObserveRender(len(rendered.Detections), len(rendered.Warnings))

	utils.Logger.Info("image rendered",
		zap.String("md5", req.MD5),
		zap.String("mode", mode.String()),
		zap.Float64("threshold", req.Threshold),
		zap.Int("predictions", len(result.Predictions)),
		zap.Int("retained", len(rendered.Detections)),
		zap.Bool("cached", cached))

	return &DetectOutcome{Result: rendered, Mode: mode, Cached: cached}, nil
}

// CachedPredictions 查询缓存中的推理结果，缓存未启用或未命中返回 nil, nil
func (s *DetectService) CachedPredictions(ctx context.Context, md5 string) (*model.InferenceResult, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.GetInference(ctx, s.cacheKey(md5))
}

func (s *DetectService) infer(ctx context.Context, req DetectRequest) (*model.InferenceResult, bool, error) {
	if s.cache != nil && req.MD5 != "" {
		cached, err := s.cache.GetInference(ctx, s.cacheKey(req.MD5))
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			s.metrics.ObserveInference(monitor.OutcomeCacheHit, 0)
			return cached, true, nil
		}
	}

	start := time.Now()
	result, err := s.inferencer.Infer(ctx, req.Image)
	s.metrics.ObserveInference(outcomeOf(err), time.Since(start))
	if err != nil {
		utils.Logger.Error("inference failed", zap.String("md5", req.MD5), zap.Error(err))
		return nil, false, err
	}

	if s.cache != nil && req.MD5 != "" {
		if err := s.cache.SetInference(ctx, s.cacheKey(req.MD5), result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}
	return result, false, nil
}

func (s *DetectService) cacheKey(md5 string) string {
	return s.cacheScope + ":" + md5
}

func outcomeOf(err error) string {
	if err == nil {
		return monitor.OutcomeSuccess
	}
	var failure *model.InferenceFailure
	if !errors.As(err, &failure) {
		return monitor.OutcomeTransport
	}
	switch {
	case failure.HTTPStatus == 0:
		return monitor.OutcomeTransport
	case failure.HTTPStatus == 200:
		return monitor.OutcomeDecode
	default:
		return monitor.OutcomeHTTPError
	}
}
