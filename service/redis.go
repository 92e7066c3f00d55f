package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/TIANLI0/CrackKit/model"
	"github.com/TIANLI0/CrackKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PredictionCache 按图片缓存原始推理结果
type PredictionCache interface {
	GetInference(ctx context.Context, key string) (*model.InferenceResult, error)
	SetInference(ctx context.Context, key string, result *model.InferenceResult) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig, ttl time.Duration) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    ttl,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetInference 从缓存获取推理结果，未命中返回 nil, nil
func (s *RedisService) GetInference(ctx context.Context, key string) (*model.InferenceResult, error) {
	data, err := s.client.Get(ctx, "inference:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.InferenceResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal inference result",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetInference 写入推理结果
func (s *RedisService) SetInference(ctx context.Context, key string, result *model.InferenceResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, "inference:"+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
