package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	MySQL    MySQLConfig     `mapstructure:"mysql"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Kafka    KafkaConfig     `mapstructure:"kafka"`
	Business BusinessConfig  `mapstructure:"business"`
	Gateways []GatewayConfig `mapstructure:"gateways"`
	Recharge RechargeConfig  `mapstructure:"recharge"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
	Group   KafkaGroupConfig `mapstructure:"group"`
}

type KafkaTopicConfig struct {
	Settlement           string `mapstructure:"settlement"`             // 结算任务主题
	SettlementDeadLetter string `mapstructure:"settlement_dead_letter"` // 结算死信主题
}

type KafkaGroupConfig struct {
	Settlement string `mapstructure:"settlement"` // 结算 worker 消费组
}

type BusinessConfig struct {
	OrderTimeoutMinutes int `mapstructure:"order_timeout_minutes"` // 未支付订单关闭时限
	MaxRetryCount       int `mapstructure:"max_retry_count"`       // outbox/结算最大重试次数
	CheckinReward       int `mapstructure:"checkin_reward"`        // 签到奖励积分
	PullNewReward       int `mapstructure:"pull_new_reward"`       // 拉新奖励积分
	GatewayTimeoutSec   int `mapstructure:"gateway_timeout_sec"`   // 网关调用超时（秒）
}

// GatewayConfig 支付网关凭证
// 同一套凭证可能被多个应用别名引用（appid/sub_appid/mch_id），
// 查找时按 appid -> sub_appid -> mch_id 的顺序逐个匹配
type GatewayConfig struct {
	Provider  string `mapstructure:"provider"`   // 提供方（alipay/wechat）
	AppID     string `mapstructure:"appid"`      // 应用ID
	SubAppID  string `mapstructure:"sub_appid"`  // 子应用ID
	MchID     string `mapstructure:"mch_id"`     // 商户号
	SecretKey string `mapstructure:"secret_key"` // 签名密钥
	NotifyURL string `mapstructure:"notify_url"` // 回调地址
	APIBase   string `mapstructure:"api_base"`   // 网关接口地址
}

// RechargeTier 充值档位
type RechargeTier struct {
	SKU        string `mapstructure:"sku"`
	Kind       string `mapstructure:"kind"`        // balance/point
	Amount     int64  `mapstructure:"amount"`      // 到账数额
	Price      int64  `mapstructure:"price"`       // 应付金额（分）
	GiftAmount int64  `mapstructure:"gift_amount"` // 赠送数额
}

type RechargeConfig struct {
	Tiers []RechargeTier `mapstructure:"tiers"`
}

// FindTier 按种类和 SKU 查找档位
func (c *RechargeConfig) FindTier(kind, sku string) (*RechargeTier, bool) {
	for i := range c.Tiers {
		if c.Tiers[i].Kind == kind && c.Tiers[i].SKU == sku {
			return &c.Tiers[i], true
		}
	}
	return nil, false
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
