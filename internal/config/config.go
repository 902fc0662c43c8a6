package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		AdminId int64  `yaml:"admin_id" env:"TELEGRAM_ADMIN_ID" env-default:"0"`
		BotName string `yaml:"bot_name" env-default:"VentaBotAlerts"`
		Enabled bool   `yaml:"enabled" env-default:"false"`
	} `yaml:"telegram"`
	OpenAI struct {
		ApiKey         string `yaml:"api_key" env:"OPENAI_API_KEY" env-default:"" validate:"required"`
		ChatModel      string `yaml:"chat_model" env-default:"gpt-4o"`
		VisionModel    string `yaml:"vision_model" env-default:"gpt-4o-mini"`
		TimeoutSeconds int    `yaml:"timeout_seconds" env-default:"60" validate:"gte=1"`
	} `yaml:"openai"`
	Mongo struct {
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"ventabot" validate:"required"`
	} `yaml:"mongo"`
	Pipeline struct {
		DebounceSeconds     int `yaml:"debounce_seconds" env-default:"6" validate:"gte=1"`
		HistoryLimit        int `yaml:"history_limit" env-default:"20" validate:"gte=1"`
		FollowUpPollSeconds int `yaml:"follow_up_poll_seconds" env-default:"60" validate:"gte=1"`
		TypingMinMs         int `yaml:"typing_min_ms" env-default:"1500" validate:"gte=0"`
		TypingMaxMs         int `yaml:"typing_max_ms" env-default:"4000" validate:"gtefield=TypingMinMs"`
		MaxSegmentChars     int `yaml:"max_segment_chars" env-default:"280" validate:"gte=40"`
	} `yaml:"pipeline"`
	Session struct {
		GatewayURL       string `yaml:"gateway_url" env:"SESSION_GATEWAY_URL" env-default:""`
		CredsDir         string `yaml:"creds_dir" env-default:"./sessions"`
		ReconnectSeconds int    `yaml:"reconnect_seconds" env-default:"5" validate:"gte=1"`
	} `yaml:"session"`
	Listen struct {
		BindIP string `yaml:"bind_ip" env-default:"127.0.0.1"`
		Port   string `yaml:"port" env:"PORT" env-default:"9200"`
		ApiKey string `yaml:"key" env:"API_KEY" env-default:""`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("%s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if err = validator.New().Struct(instance); err != nil {
			instance = nil
			log.Fatal(fmt.Errorf("config validation: %w", err))
		}
	})
	return instance
}
