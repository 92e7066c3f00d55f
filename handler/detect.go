package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/model"
	"github.com/TIANLI0/CrackKit/overlay"
	"github.com/TIANLI0/CrackKit/service"
	"github.com/TIANLI0/CrackKit/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DetectHandler struct {
	cfg     *config.Config
	service *service.DetectService
}

func NewDetectHandler(cfg *config.Config, svc *service.DetectService) *DetectHandler {
	return &DetectHandler{
		cfg:     cfg,
		service: svc,
	}
}

// Detect 上传图片，调用推理接口并返回叠加后的图像和摘要
func (h *DetectHandler) Detect(c *gin.Context) {
	img, md5, ok := h.readImage(c)
	if !ok {
		return
	}

	threshold := h.cfg.Overlay.DefaultThreshold
	if raw := strings.TrimSpace(c.PostForm("confidence")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "confidence 必须是 0 到 1 之间的数字",
			})
			return
		}
		threshold = v
	}

	mode, err := overlay.ParseMode(c.PostForm("mode"), h.service.DefaultMode())
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的叠加方式",
			Error:   err.Error(),
		})
		return
	}

	outcome, err := h.service.Detect(c.Request.Context(), service.DetectRequest{
		Image:     img,
		MD5:       md5,
		Threshold: threshold,
		Mode:      mode,
	})
	if err != nil {
		var failure *model.InferenceFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusBadGateway, model.ErrorResponse{
				Success:        false,
				Message:        "推理服务调用失败",
				Error:          failureDetail(failure),
				UpstreamStatus: failure.HTTPStatus,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "检测失败",
			Error:   err.Error(),
		})
		return
	}

	encoded, err := encodePNG(outcome.Result.AnnotatedImage)
	if err != nil {
		utils.Logger.Error("failed to encode annotated image", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "图像编码失败",
			Error:   err.Error(),
		})
		return
	}

	message := "处理成功"
	if outcome.Cached {
		message = "处理成功（来自缓存）"
	}

	b := img.Bounds()
	c.JSON(http.StatusOK, model.DetectResponse{
		Success: true,
		Message: message,
		Data: &model.DetectData{
			MD5:          md5,
			Width:        b.Dx(),
			Height:       b.Dy(),
			Threshold:    threshold,
			Mode:         outcome.Mode.String(),
			AnyDetection: outcome.Result.AnyDetection,
			Cached:       outcome.Cached,
			Header:       outcome.Result.Header,
			Summary:      outcome.Result.SummaryLines,
			Warnings:     nonNil(outcome.Result.Warnings),
			Detections:   views(outcome.Result.Detections),
			Image:        "data:image/png;base64," + encoded,
		},
	})
}

// Pixel 返回上传图像中 (x, y) 处的颜色
func (h *DetectHandler) Pixel(c *gin.Context) {
	x, errX := strconv.Atoi(strings.TrimSpace(c.PostForm("x")))
	y, errY := strconv.Atoi(strings.TrimSpace(c.PostForm("y")))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "x 和 y 必须是整数",
		})
		return
	}

	img, _, ok := h.readImage(c)
	if !ok {
		return
	}

	data := &model.PixelData{X: x, Y: y}
	if px, inside := overlay.PixelAt(img, x, y); inside {
		data.Inside = true
		data.R, data.G, data.B = px.R, px.G, px.B
	}

	c.JSON(http.StatusOK, model.PixelResponse{Success: true, Data: data})
}

// GetPredictions 根据MD5获取缓存的推理结果
func (h *DetectHandler) GetPredictions(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}

	result, err := h.service.CachedPredictions(c.Request.Context(), md5)
	if err != nil {
		utils.Logger.Error("failed to get predictions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该图片的推理结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.PredictionsResponse{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

// readImage 校验并解码上传的图片，失败时已写入响应
func (h *DetectHandler) readImage(c *gin.Context) (image.Image, string, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return nil, "", false
	}

	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, "", false
	}

	if !h.isAllowedType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG",
		})
		return nil, "", false
	}

	data, err := readAll(file)
	if err != nil {
		utils.Logger.Error("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return nil, "", false
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "无法解析图片",
			Error:   err.Error(),
		})
		return nil, "", false
	}
	// 推理、渲染和像素查看都使用同一张不透明图像
	img = overlay.Flatten(img)

	md5 := utils.BytesMD5(data)
	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size))

	return img, md5, true
}

func (h *DetectHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func failureDetail(f *model.InferenceFailure) string {
	if f.RawBody != "" {
		return f.RawBody
	}
	return f.Error()
}

func views(dets []model.RenderedDetection) []model.DetectionView {
	out := make([]model.DetectionView, 0, len(dets))
	for _, d := range dets {
		out = append(out, model.DetectionView{
			Class:      d.Class,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
			Box:        d.Box,
			HasMask:    d.Mask != "",
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
