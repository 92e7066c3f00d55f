package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/model"
	"github.com/TIANLI0/CrackKit/overlay"
	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
)

// Inferencer 把一张图片发送给推理服务
type Inferencer interface {
	Infer(ctx context.Context, img image.Image) (*model.InferenceResult, error)
}

// InferenceClient 托管推理接口客户端，无状态，每次调用一次往返，不重试
type InferenceClient struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	keyParam string
	quality  int
}

func NewInferenceClient(cfg *config.InferenceConfig) *InferenceClient {
	client := resty.New().SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	quality := cfg.UploadQuality
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	keyParam := cfg.APIKeyParam
	if keyParam == "" {
		keyParam = "api_key"
	}

	return &InferenceClient{
		client:   client,
		endpoint: cfg.Endpoint(),
		apiKey:   cfg.APIKey,
		keyParam: keyParam,
		quality:  quality,
	}
}

// Endpoint 不含密钥的请求地址
func (c *InferenceClient) Endpoint() string {
	return c.endpoint
}

// Infer 丢弃 alpha 后将图片重新编码为 JPEG，以 multipart 字段 file 上传并解析 predictions
func (c *InferenceClient) Infer(ctx context.Context, img image.Image) (*model.InferenceResult, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, overlay.Flatten(img), imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam(c.keyParam, c.apiKey).
		SetFileReader("file", "image.jpg", bytes.NewReader(buf.Bytes())).
		Post(c.endpoint)
	if err != nil {
		return nil, &model.InferenceFailure{Err: c.redact(err)}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &model.InferenceFailure{
			HTTPStatus: resp.StatusCode(),
			RawBody:    string(resp.Body()),
		}
	}

	var result model.InferenceResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &model.InferenceFailure{
			HTTPStatus: resp.StatusCode(),
			RawBody:    string(resp.Body()),
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	return &result, nil
}

// redact 传输错误里可能带有完整 URL，去掉其中的密钥
func (c *InferenceClient) redact(err error) error {
	if c.apiKey == "" || !strings.Contains(err.Error(), c.apiKey) {
		return err
	}
	return &redactedError{
		msg: strings.ReplaceAll(err.Error(), c.apiKey, "REDACTED"),
		err: err,
	}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string {
	return e.msg
}

func (e *redactedError) Unwrap() error {
	return e.err
}
