package nacos

import (
	"PPGate/tools/errs"
	"PPGate/tools/safe"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Watcher 监听一个配置项，首次读取和每次变更都回调 onChange
type Watcher struct {
	client config_client.IConfigClient
	param  vo.ConfigParam
	log    *zap.Logger
}

func WatchConfig(c Config, dataID string, onChange func(data string), log *zap.Logger) (*Watcher, error) {
	c.norm()
	if dataID == "" {
		return nil, errs.ErrArgs.WrapMsg("nacos data id missing")
	}
	cli, err := newConfigClient(c)
	if err != nil {
		return nil, err
	}
	w := &Watcher{client: cli, log: log}
	apply := func(data string) {
		if err := safe.Call(func() error { onChange(data); return nil }); err != nil {
			log.Error("config callback panicked", zap.String("dataId", dataID), zap.Error(err))
		}
	}

	content, err := cli.GetConfig(vo.ConfigParam{DataId: dataID, Group: c.Group})
	if err != nil {
		log.Warn("nacos get config", zap.String("dataId", dataID), zap.Error(err))
	} else if content != "" {
		apply(content)
	}

	w.param = vo.ConfigParam{
		DataId: dataID,
		Group:  c.Group,
		OnChange: func(_, _, dataId, data string) {
			log.Info("nacos config changed", zap.String("dataId", dataId))
			apply(data)
		},
	}
	if err := cli.ListenConfig(w.param); err != nil {
		cli.CloseClient()
		return nil, errs.WrapMsg(err, "nacos listen config", "dataId", dataID)
	}
	return w, nil
}

func (w *Watcher) Close() error {
	err := w.client.CancelListenConfig(w.param)
	w.client.CloseClient()
	return err
}
