package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rqlite/rqlite/v8/random"
)

type Config struct {
	// configuration of the public REST server
	HttpServer HttpServer `yaml:"httpServer" json:"httpServer"`
	// used for OTEL as an application identifier
	Name      string    `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenexec"`
	Engine    Engine    `yaml:"engine" json:"engine"`
	Partition Partition `yaml:"partition" json:"partition"`
	Tracing   Tracing   `yaml:"tracing" json:"tracing"`
}

type HttpServer struct {
	Context     string   `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr        string   `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	CorsOrigins []string `yaml:"corsOrigins" json:"corsOrigins" env:"REST_API_CORS_ORIGINS" env-default:"*"`
}

type Engine struct {
	PartitionId uint32 `yaml:"partitionId" json:"partitionId" env:"ENGINE_PARTITION_ID" env-default:"1"`
	// MaxProcessDepth limits how deep call activities may nest
	MaxProcessDepth      int           `yaml:"maxProcessDepth" json:"maxProcessDepth" env:"ENGINE_MAX_PROCESS_DEPTH" env-default:"1000"`
	IdempotencyCacheSize int           `yaml:"idempotencyCacheSize" json:"idempotencyCacheSize" env:"ENGINE_IDEMPOTENCY_CACHE_SIZE" env-default:"10000"`
	IdempotencyCacheTTL  time.Duration `yaml:"idempotencyCacheTtl" json:"idempotencyCacheTtl" env:"ENGINE_IDEMPOTENCY_CACHE_TTL" env-default:"5m"`
	// TimerInterval is how often due timers are fired on the leader
	TimerInterval time.Duration `yaml:"timerInterval" json:"timerInterval" env:"ENGINE_TIMER_INTERVAL" env-default:"1s"`
}

type Partition struct {
	NodeId   string `yaml:"nodeId" json:"nodeId" env:"PARTITION_NODE_ID"`
	RaftAddr string `yaml:"raftAddress" json:"raftAddress" env:"PARTITION_RAFT_ADDR" env-default:"127.0.0.1:8090"`
	// RaftDir keeps the raft log, stable store and snapshots, empty keeps them in memory
	RaftDir   string `yaml:"raftDir" json:"raftDir" env:"PARTITION_RAFT_DIR"`
	Bootstrap bool   `yaml:"bootstrap" json:"bootstrap" env:"PARTITION_BOOTSTRAP" env-default:"true"`
	// Peers are the raft addresses of the other voters keyed by their node id, used when bootstrapping
	Peers             map[string]string `yaml:"peers" json:"peers" env:"PARTITION_PEERS"`
	ApplyTimeout      time.Duration     `yaml:"applyTimeout" json:"applyTimeout" env:"PARTITION_APPLY_TIMEOUT" env-default:"5s"`
	SnapshotThreshold uint64            `yaml:"snapshotThreshold" json:"snapshotThreshold" env:"PARTITION_SNAPSHOT_THRESHOLD" env-default:"8192"`
	RetainSnapshots   int               `yaml:"retainSnapshots" json:"retainSnapshots" env:"PARTITION_RETAIN_SNAPSHOTS" env-default:"2"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Name     string `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME" env-default:"zenexec"`
	// SampleRatio of root spans that are exported, child spans follow their parent
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" env:"OTEL_TRACES_SAMPLE_RATIO" env-default:"1"`
}

func (c Config) defaults() Config {
	if c.Partition.NodeId == "" {
		c.Partition.NodeId = random.String()
	}
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	return c
}

// InitConfig reads the configuration from the file named by CONFIG_FILE,
// ./conf.yaml or the environment when there is no file.
func InitConfig() Config {
	c, err := Load()
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}

func Load() (Config, error) {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c, err
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return c, err
	}
	return c.defaults(), nil
}
