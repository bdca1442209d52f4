package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Milvus  MilvusConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Vision  VisionConfig
	Scoring ScoringConfig
	Render  RenderConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	EmbeddingDim   int
}

// VisionConfig carries every tunable of the sheet-extraction pipeline so
// the pipeline takes nothing from package globals.
type VisionConfig struct {
	Model                 string
	PromptCostPerMTok     float64
	CompletionCostPerMTok float64
	PageDelay             time.Duration
	MaxSheets             int
	ImageScale            float64
	MaxImageDimension     int
	BatchPageThreshold    int
	BatchWorkers          int
	MaxQuantitiesPerPage  int
	MaxCrossingsPerPage   int
}

// ScoringConfig holds the re-ranking boost weights. The shipped defaults
// were tuned empirically against real plan sets; refit them whenever a
// labeled query set is available.
type ScoringConfig struct {
	StationWindowFeet      float64
	StationProximityCap    float64
	SheetTypeBoost         float64
	QuantityPlanMultiplier float64
	IndexSheetPenalty      float64
	CriticalSheetBoost     float64
	CriticalQuantityBoost  float64
	OversampleFactor       int
}

type RenderConfig struct {
	BaseURL    string
	TimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/plan-agent")

	viper.SetEnvPrefix("PLAN_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/planagent.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "plan_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("vision.model", "gpt-4o")
	viper.SetDefault("vision.promptCostPerMTok", 2.50)
	viper.SetDefault("vision.completionCostPerMTok", 10.0)
	viper.SetDefault("vision.pageDelay", "1s")
	viper.SetDefault("vision.maxSheets", 25)
	viper.SetDefault("vision.imageScale", 2.0)
	viper.SetDefault("vision.maxImageDimension", 2048)
	viper.SetDefault("vision.batchPageThreshold", 200)
	viper.SetDefault("vision.batchWorkers", 5)
	viper.SetDefault("vision.maxQuantitiesPerPage", 20)
	viper.SetDefault("vision.maxCrossingsPerPage", 5)

	viper.SetDefault("scoring.stationWindowFeet", 500.0)
	viper.SetDefault("scoring.stationProximityCap", 0.2)
	viper.SetDefault("scoring.sheetTypeBoost", 0.2)
	viper.SetDefault("scoring.quantityPlanMultiplier", 1.5)
	viper.SetDefault("scoring.indexSheetPenalty", 0.4)
	viper.SetDefault("scoring.criticalSheetBoost", 0.15)
	viper.SetDefault("scoring.criticalQuantityBoost", 0.3)
	viper.SetDefault("scoring.oversampleFactor", 2)

	viper.SetDefault("render.baseURL", "http://localhost:3000")
	viper.SetDefault("render.timeoutSec", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
