// Package config loads the process configuration shared by cmd/gateway and
// cmd/shard: built-in defaults, then an optional YAML file, then environment
// overrides.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"PPGate/service/gate"
	"PPGate/service/kafka"
	"PPGate/service/mgo"
	"PPGate/service/nacos"
	"PPGate/service/natsx"
	"PPGate/service/registry"
	"PPGate/service/storage/redis"
	"PPGate/tools"
	"PPGate/tools/errs"
	"PPGate/tools/safe"

	"gopkg.in/yaml.v3"
)

type NatsConf struct {
	Servers   []string `yaml:"servers"`
	Name      string   `yaml:"name"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	IdemTTLMs int      `yaml:"idem_ttl_ms"` // 幂等去重窗口
}

type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

type KafkaConf struct {
	Brokers     []string `yaml:"brokers"` // 为空则不投递事件
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
	Retries     int      `yaml:"retries"`
	Buffer      int      `yaml:"buffer"`
	AutoCreate  bool     `yaml:"auto_create"`
	Partitions  int32    `yaml:"partitions"`
	Replication int16    `yaml:"replication"`
}

// MongoConf uri 为空则不落库
type MongoConf struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	PoolSize   uint64 `yaml:"pool_size"`
}

type GateConf struct {
	HTTPAddr    string   `yaml:"http_addr"`
	Rooms       []string `yaml:"rooms"`
	Areas       []string `yaml:"areas"` // 允许客户端监听/写入的 area，空表示不限
	MaxSessions int      `yaml:"max_sessions"`
	// nil 表示默认 50ms，0 表示不自动下发
	PatchIntervalMs   *int `yaml:"patch_interval_ms"`
	AutoDisposeMs     int  `yaml:"auto_dispose_ms"`
	SeatReservationMs int  `yaml:"seat_reservation_ms"`
	// SeatReservationSeconds 秒为单位的同一配置，大于 0 时覆盖 seat_reservation_ms
	SeatReservationSeconds int    `yaml:"seat_reservation_seconds"`
	FabricTimeoutMs        int    `yaml:"fabric_timeout_ms"`
	ReconnectMs            int    `yaml:"reconnect_ms"` // 非主动断开时的重连窗口，0 不保留
	AdminToken             string `yaml:"admin_token"`  // 为空时管理接口不校验
}

type ShardConf struct {
	HTTPAddr string   `yaml:"http_addr"`
	Areas    []string `yaml:"areas"`
}

// NacosConf addrs 为空时不注册也不监听远端配置
type NacosConf struct {
	Addrs     []string `yaml:"addrs"`
	Namespace string   `yaml:"namespace"`
	Group     string   `yaml:"group"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DataID    string   `yaml:"data_id"` // 运行时可调的配置项，内容同本文件格式
	Weight    int      `yaml:"weight"`
}

type LogConf struct {
	Level string `yaml:"level"`
}

type AppConfig struct {
	NodeID  string `yaml:"node_id"`
	NodeNum int64  `yaml:"node_num"` // 雪花 id 的节点号
	// AdvertiseHost 注册到 nacos 的对外地址
	AdvertiseHost string    `yaml:"advertise_host"`
	Nats          NatsConf  `yaml:"nats"`
	Redis         RedisConf `yaml:"redis"`
	Kafka         KafkaConf `yaml:"kafka"`
	Mongo         MongoConf `yaml:"mongo"`
	Gate          GateConf  `yaml:"gate"`
	Shard         ShardConf `yaml:"shard"`
	Log           LogConf   `yaml:"log"`
	Nacos         NacosConf `yaml:"nacos"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID:  "gate-1",
		NodeNum: 1,

		AdvertiseHost: "127.0.0.1",
		Nats: NatsConf{
			Servers:   []string{"nats://127.0.0.1:4222"},
			IdemTTLMs: 120_000,
		},
		Redis: RedisConf{Addr: "127.0.0.1:6379", Prefix: "ppgate:"},
		Kafka: KafkaConf{Topic: "ppgate.room-events"},
		Gate: GateConf{
			HTTPAddr:          ":8080",
			Rooms:             []string{"lobby"},
			AutoDisposeMs:     0,
			SeatReservationMs: 3000,
			FabricTimeoutMs:   3000,
			ReconnectMs:       10_000,
		},
		Shard: ShardConf{HTTPAddr: ":8081", Areas: []string{"a1"}},
		Log:   LogConf{Level: "info"},
	}
}

// Load path 为空时只用默认值和环境变量
func Load(path string) (*AppConfig, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		data = b
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	return c, nil
}

// Parse 在默认值上叠加 YAML，不读环境变量
func Parse(data []byte) (*AppConfig, error) {
	c := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, errs.ErrArgs.WrapMsg("bad config yaml", "err", err)
		}
	}
	return &c, nil
}

func (c *AppConfig) applyEnv() {
	c.NodeID = tools.GetEnv("NODE_ID", c.NodeID)
	c.Gate.HTTPAddr = tools.GetEnv("HTTP_ADDR", c.Gate.HTTPAddr)
	c.Nats.Servers = tools.GetEnvList("NATS_SERVERS", c.Nats.Servers)
	c.Redis.Addr = tools.GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Kafka.Brokers = tools.GetEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Mongo.URI = tools.GetEnv("MONGO_URI", c.Mongo.URI)
	c.Log.Level = tools.GetEnv("LOG_LEVEL", c.Log.Level)
	c.Gate.AdminToken = tools.GetEnv("ADMIN_TOKEN", c.Gate.AdminToken)
	c.Gate.Rooms = tools.GetEnvList("GATE_ROOMS", c.Gate.Rooms)
	c.Shard.Areas = tools.GetEnvList("SHARD_AREAS", c.Shard.Areas)
	c.Nacos.Addrs = tools.GetEnvList("NACOS_ADDRS", c.Nacos.Addrs)
	c.AdvertiseHost = tools.GetEnv("ADVERTISE_HOST", c.AdvertiseHost)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *AppConfig) NatsConfig() natsx.NatsxConfig {
	name := c.Nats.Name
	if name == "" {
		name = c.NodeID
	}
	return natsx.NatsxConfig{
		Servers:  c.Nats.Servers,
		Name:     name,
		User:     c.Nats.User,
		Password: c.Nats.Password,
	}
}

func (c *AppConfig) IdemTTL() time.Duration { return ms(c.Nats.IdemTTLMs) }

func (c *AppConfig) RedisConfig() redis.Config {
	return redis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	}
}

func (c *AppConfig) KafkaConfig() kafka.Config {
	return kafka.Config{
		Brokers:             c.Kafka.Brokers,
		Topic:               c.Kafka.Topic,
		ProducerRetries:     c.Kafka.Retries,
		ProducerCompression: c.Kafka.Compression,
		Buffer:              c.Kafka.Buffer,
		AutoCreateTopic:     c.Kafka.AutoCreate,
		Partitions:          c.Kafka.Partitions,
		ReplicationFactor:   c.Kafka.Replication,
	}
}

func (c *AppConfig) MongoConfig() mgo.Config {
	return mgo.Config{
		URI:         c.Mongo.URI,
		Database:    c.Mongo.Database,
		Collection:  c.Mongo.Collection,
		MaxPoolSize: c.Mongo.PoolSize,
	}
}

// RoomConfig 房间配置；Fabric、Presence、Events、Logger 由调用方填
func (g GateConf) RoomConfig(roomID string) gate.Config {
	patch := ms(safe.DefaultInt(g.PatchIntervalMs, int(gate.DefaultPatchInterval/time.Millisecond)))
	return gate.Config{
		RoomID:             roomID,
		MaxSessions:        g.MaxSessions,
		PatchInterval:      patch,
		AutoDisposeTimeout: ms(g.AutoDisposeMs),
		SeatReservation:    g.seatReservation(),
		FabricTimeout:      ms(g.FabricTimeoutMs),
	}
}

func (g GateConf) seatReservation() time.Duration {
	if g.SeatReservationSeconds > 0 {
		return time.Duration(g.SeatReservationSeconds) * time.Second
	}
	return ms(g.SeatReservationMs)
}

func (g GateConf) ReconnectWindow() time.Duration { return ms(g.ReconnectMs) }

func (c *AppConfig) NacosConfig() nacos.Config {
	return nacos.Config{
		Addrs:     c.Nacos.Addrs,
		Namespace: c.Nacos.Namespace,
		Group:     c.Nacos.Group,
		Username:  c.Nacos.Username,
		Password:  c.Nacos.Password,
	}
}

// Instance 本节点的注册信息；端口取自 httpAddr
func (c *AppConfig) Instance(service, httpAddr, metaKey string, values []string) (registry.Instance, error) {
	_, p, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return registry.Instance{}, errs.ErrArgs.WrapMsg("bad http addr", "addr", httpAddr)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return registry.Instance{}, errs.ErrArgs.WrapMsg("bad http port", "addr", httpAddr)
	}
	meta := map[string]string{metaKey: strings.Join(values, ",")}
	if c.Nacos.Weight > 0 {
		meta[registry.MetaWeight] = strconv.Itoa(c.Nacos.Weight)
	}
	return registry.Instance{
		Service:  service,
		ID:       c.NodeID,
		Address:  c.AdvertiseHost,
		Port:     port,
		Metadata: meta,
	}, nil
}
