package nacos

import (
	"context"

	"PPGate/service/registry"
	"PPGate/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

const cluster = "DEFAULT"

// Registry 临时实例，心跳由 SDK 维持，进程退出后自动摘除
type Registry struct {
	client naming_client.INamingClient
	group  string
	log    *zap.Logger
}

func NewRegistry(c Config, log *zap.Logger) (*Registry, error) {
	c.norm()
	cli, err := newNamingClient(c)
	if err != nil {
		return nil, err
	}
	return &Registry{client: cli, group: c.Group, log: log}, nil
}

func (r *Registry) Register(_ context.Context, inst registry.Instance) error {
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          inst.Address,
		Port:        uint64(inst.Port),
		Weight:      float64(registry.ParseWeight(inst.Metadata)),
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    withID(inst),
		ClusterName: cluster,
		ServiceName: inst.Service,
		GroupName:   r.group,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", inst.Service, "id", inst.ID)
	}
	if !ok {
		return errs.ErrInternalServer.WrapMsg("nacos register returned false", "service", inst.Service)
	}
	r.log.Info("registered", zap.String("service", inst.Service), zap.String("id", inst.ID),
		zap.String("addr", inst.Address), zap.Int("port", inst.Port))
	return nil
}

func (r *Registry) Deregister(_ context.Context, inst registry.Instance) error {
	if _, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          inst.Address,
		Port:        uint64(inst.Port),
		Cluster:     cluster,
		ServiceName: inst.Service,
		GroupName:   r.group,
		Ephemeral:   true,
	}); err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", inst.Service, "id", inst.ID)
	}
	return nil
}

func (r *Registry) List(_ context.Context, service string) ([]registry.Instance, error) {
	list, err := r.client.SelectInstances(vo.SelectInstancesParam{
		Clusters:    []string{cluster},
		ServiceName: service,
		GroupName:   r.group,
		HealthyOnly: true,
	})
	if err != nil {
		// 服务还没有任何实例时 SDK 也返回 error
		r.log.Debug("nacos select instances", zap.String("service", service), zap.Error(err))
		return nil, nil
	}
	return toInstances(service, list), nil
}

func (r *Registry) Close() error {
	r.client.CloseClient()
	return nil
}

func toInstances(service string, list []model.Instance) []registry.Instance {
	out := make([]registry.Instance, 0, len(list))
	for _, in := range list {
		if !in.Enable {
			continue
		}
		id := in.Metadata[registry.MetaNode]
		if id == "" {
			id = in.InstanceId
		}
		out = append(out, registry.Instance{
			Service:  service,
			ID:       id,
			Address:  in.Ip,
			Port:     int(in.Port),
			Metadata: in.Metadata,
		})
	}
	return out
}

// nacos 的实例 id 由 ip#port#cluster#service 拼成，节点 id 放到元数据里
func withID(inst registry.Instance) map[string]string {
	meta := make(map[string]string, len(inst.Metadata)+1)
	for k, v := range inst.Metadata {
		meta[k] = v
	}
	meta[registry.MetaNode] = inst.ID
	return meta
}
