package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 推理密钥的环境变量名
const APIKeyEnv = "ROBOFLOW_API_KEY"

var validModes = []string{"boxes", "instance-masks", "full-frame-mask"}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Inference InferenceConfig `mapstructure:"inference"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// InferenceConfig 托管推理接口配置，URL = BaseURL/Project/Version
type InferenceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Project       string        `mapstructure:"project"`
	Version       string        `mapstructure:"version"`
	APIKey        string        `mapstructure:"api_key"`
	APIKeyParam   string        `mapstructure:"api_key_param"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UploadQuality int           `mapstructure:"upload_quality"`
}

type OverlayConfig struct {
	Mode             string  `mapstructure:"mode"`
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	PixelToMM        float64 `mapstructure:"pixel_to_mm"`
	BoxColor         string  `mapstructure:"box_color"`
	LineWidth        float64 `mapstructure:"line_width"`
	LabelOffset      float64 `mapstructure:"label_offset"`
	MaskColor        string  `mapstructure:"mask_color"`
	FrameMaskAlpha   float64 `mapstructure:"frame_mask_alpha"`
	DefaultClass     string  `mapstructure:"default_class"`
	RefineMasks      bool    `mapstructure:"refine_masks"`
	RefineKernel     int     `mapstructure:"refine_kernel"`
	RefineEdges      bool    `mapstructure:"refine_edges"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Load 从 YAML 文件加载配置，环境变量优先
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 没有配置文件时仍然读取默认值和环境变量
		cfg, err = unmarshal(newViper())
		if err != nil {
			return getDefaultConfig()
		}
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("inference.api_key", APIKeyEnv, "INFERENCE_API_KEY")

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate 检查启动必需项，缺少密钥时直接失败
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Inference.APIKey) == "" {
		return fmt.Errorf("missing inference api key: set %s", APIKeyEnv)
	}
	if c.Inference.BaseURL == "" || c.Inference.Project == "" || c.Inference.Version == "" {
		return fmt.Errorf("inference base_url, project and version are required")
	}
	if !isValidMode(c.Overlay.Mode) {
		return fmt.Errorf("unknown overlay mode %q", c.Overlay.Mode)
	}
	if c.Overlay.DefaultThreshold < 0 || c.Overlay.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold must be between 0.0 and 1.0, got %f", c.Overlay.DefaultThreshold)
	}
	if c.Overlay.FrameMaskAlpha < 0 || c.Overlay.FrameMaskAlpha > 1 {
		return fmt.Errorf("frame_mask_alpha must be between 0.0 and 1.0, got %f", c.Overlay.FrameMaskAlpha)
	}
	if c.Metrics.Enabled && c.Metrics.SampleInterval <= 0 {
		return fmt.Errorf("metrics.sample_interval must be positive")
	}
	return nil
}

// Endpoint 返回不含密钥的推理地址，可以安全地写入日志
func (c *InferenceConfig) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.Project + "/" + c.Version
}

func isValidMode(mode string) bool {
	for _, m := range validModes {
		if m == mode {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("inference.base_url", "https://detect.roboflow.com")
	v.SetDefault("inference.project", "-1121")
	v.SetDefault("inference.version", "3")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.api_key_param", "api_key")
	v.SetDefault("inference.timeout", time.Duration(0))
	v.SetDefault("inference.upload_quality", 95)

	v.SetDefault("overlay.mode", "boxes")
	v.SetDefault("overlay.default_threshold", 0.2)
	v.SetDefault("overlay.pixel_to_mm", 0.1)
	v.SetDefault("overlay.box_color", "#ff0000")
	v.SetDefault("overlay.line_width", 2.0)
	v.SetDefault("overlay.label_offset", 10.0)
	v.SetDefault("overlay.mask_color", "#ff0000")
	v.SetDefault("overlay.frame_mask_alpha", 0.5)
	v.SetDefault("overlay.default_class", "crack")
	v.SetDefault("overlay.refine_masks", false)
	v.SetDefault("overlay.refine_kernel", 3)
	v.SetDefault("overlay.refine_edges", false)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", 5*time.Second)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Inference: InferenceConfig{
			BaseURL:       "https://detect.roboflow.com",
			Project:       "-1121",
			Version:       "3",
			APIKeyParam:   "api_key",
			UploadQuality: 95,
		},
		Overlay: OverlayConfig{
			Mode:             "boxes",
			DefaultThreshold: 0.2,
			PixelToMM:        0.1,
			BoxColor:         "#ff0000",
			LineWidth:        2,
			LabelOffset:      10,
			MaskColor:        "#ff0000",
			FrameMaskAlpha:   0.5,
			DefaultClass:     "crack",
			RefineKernel:     3,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			SampleInterval: 5 * time.Second,
		},
	}
}
