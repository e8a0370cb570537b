// Package mgo persists room lifecycle events to MongoDB for audit and
// post-hoc analysis of sessions.
package mgo

import (
	"context"
	"time"

	"PPGate/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Config struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	Timeout     time.Duration
	Batch       int           // 单次 InsertMany 的最大条数
	FlushEvery  time.Duration // 未满批时的刷新间隔
	Buffer      int
}

func (c *Config) norm() {
	if c.Database == "" {
		c.Database = "ppgate"
	}
	if c.Collection == "" {
		c.Collection = "room_events"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 64
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 500 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
}

// Connect 建连并 ping，失败时断开
func Connect(ctx context.Context, c Config) (*mongo.Client, error) {
	c.norm()
	if c.URI == "" {
		return nil, errs.ErrArgs.WrapMsg("mongo uri missing")
	}
	opts := options.Client().ApplyURI(c.URI).SetConnectTimeout(c.Timeout)
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errs.WrapMsg(err, "mongo ping")
	}
	return cli, nil
}
