// Package nacos backs registry.Registry with the Nacos naming service and
// watches a Nacos config item for runtime-tunable settings.
package nacos

import (
	"net"
	"strconv"

	"PPGate/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

type Config struct {
	Addrs     []string // host:port
	Namespace string
	Group     string // 缺省 DEFAULT_GROUP
	Username  string
	Password  string
	TimeoutMs uint64
	LogDir    string
	CacheDir  string
	LogLevel  string
}

func (c *Config) norm() {
	if c.Group == "" {
		c.Group = "DEFAULT_GROUP"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.LogDir == "" {
		c.LogDir = "nacos/log"
	}
	if c.CacheDir == "" {
		c.CacheDir = "nacos/cache"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

func serverConfigs(addrs []string) ([]constant.ServerConfig, error) {
	if len(addrs) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nacos addrs missing")
	}
	out := make([]constant.ServerConfig, 0, len(addrs))
	for _, a := range addrs {
		host, p, err := net.SplitHostPort(a)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg("bad nacos addr", "addr", a)
		}
		port, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg("bad nacos port", "addr", a)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	return out, nil
}

func clientParam(c Config) (vo.NacosClientParam, error) {
	servers, err := serverConfigs(c.Addrs)
	if err != nil {
		return vo.NacosClientParam{}, err
	}
	return vo.NacosClientParam{
		ClientConfig: constant.NewClientConfig(
			constant.WithNamespaceId(c.Namespace),
			constant.WithTimeoutMs(c.TimeoutMs),
			constant.WithNotLoadCacheAtStart(true),
			constant.WithLogLevel(c.LogLevel),
			constant.WithCacheDir(c.CacheDir),
			constant.WithLogDir(c.LogDir),
			constant.WithUsername(c.Username),
			constant.WithPassword(c.Password),
		),
		ServerConfigs: servers,
	}, nil
}

func newNamingClient(c Config) (naming_client.INamingClient, error) {
	p, err := clientParam(c)
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewNamingClient(p)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client")
	}
	return cli, nil
}

func newConfigClient(c Config) (config_client.IConfigClient, error) {
	p, err := clientParam(c)
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewConfigClient(p)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client")
	}
	return cli, nil
}
