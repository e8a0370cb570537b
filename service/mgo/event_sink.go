package mgo

import (
	"context"
	"sync"
	"time"

	"PPGate/service/events"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// inserter *mongo.Collection 的子集
type inserter interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// EventSink 攒批写入；Emit 不阻塞，缓冲满时丢弃
type EventSink struct {
	coll    inserter
	ch      chan events.Event
	done    chan struct{}
	once    sync.Once
	batch   int
	every   time.Duration
	timeout time.Duration
	log     *zap.Logger
}

var _ events.Sink = (*EventSink)(nil)

func NewEventSink(cli *mongo.Client, c Config, log *zap.Logger) *EventSink {
	c.norm()
	return newEventSink(cli.Database(c.Database).Collection(c.Collection), c, log)
}

func newEventSink(coll inserter, c Config, log *zap.Logger) *EventSink {
	c.norm()
	if log == nil {
		log = zap.NewNop()
	}
	s := &EventSink{
		coll:    coll,
		ch:      make(chan events.Event, c.Buffer),
		done:    make(chan struct{}),
		batch:   c.Batch,
		every:   c.FlushEvery,
		timeout: c.Timeout,
		log:     log,
	}
	go s.run()
	return s
}

func (s *EventSink) Emit(e events.Event) {
	select {
	case s.ch <- e:
	default:
		s.log.Warn("mongo event buffer full, drop", zap.String("type", string(e.Type)), zap.String("room", e.RoomID))
	}
}

func toDoc(e events.Event) bson.M {
	doc := bson.M{
		"type": string(e.Type),
		"room": e.RoomID,
		"at":   e.At,
	}
	if e.SessionID != "" {
		doc["session"] = e.SessionID
	}
	if len(e.Attrs) > 0 {
		doc["attrs"] = e.Attrs
	}
	return doc
}

func (s *EventSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	buf := make([]interface{}, 0, s.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		// 无序写入，单条失败不影响其他
		_, err := s.coll.InsertMany(ctx, buf, options.InsertMany().SetOrdered(false))
		cancel()
		if err != nil {
			s.log.Warn("insert events", zap.Int("n", len(buf)), zap.Error(err))
		}
		buf = buf[:0]
	}
	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			buf = append(buf, toDoc(e))
			if len(buf) >= s.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close 写完剩余事件；Close 之后不能再 Emit
func (s *EventSink) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}
