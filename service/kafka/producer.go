package kafka

import (
	"encoding/json"
	"sync"

	"PPGate/service/events"
	"PPGate/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EventSink 把房间事件写进 kafka。Emit 只入缓冲队列，后台协程同步发送。
type EventSink struct {
	producer sarama.SyncProducer
	topic    string
	ch       chan events.Event
	done     chan struct{}
	once     sync.Once
	log      *zap.Logger
}

var _ events.Sink = (*EventSink)(nil)

func NewEventSink(c Config, log *zap.Logger) (*EventSink, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers missing")
	}
	if c.AutoCreateTopic {
		if err := EnsureTopic(c, log); err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducer(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka producer", "brokers", c.Brokers)
	}
	return newEventSink(p, c, log), nil
}

func newEventSink(p sarama.SyncProducer, c Config, log *zap.Logger) *EventSink {
	c.norm()
	if log == nil {
		log = zap.NewNop()
	}
	s := &EventSink{
		producer: p,
		topic:    c.Topic,
		ch:       make(chan events.Event, c.Buffer),
		done:     make(chan struct{}),
		log:      log,
	}
	go s.run()
	return s
}

func (s *EventSink) Emit(e events.Event) {
	select {
	case s.ch <- e:
	default:
		s.log.Warn("kafka event buffer full, drop", zap.String("type", string(e.Type)), zap.String("room", e.RoomID))
	}
}

func (s *EventSink) run() {
	defer close(s.done)
	for e := range s.ch {
		b, err := json.Marshal(e)
		if err != nil {
			s.log.Error("marshal event", zap.Error(err))
			continue
		}
		_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(e.RoomID),
			Value: sarama.ByteEncoder(b),
		})
		if err != nil {
			s.log.Warn("send event", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}
}

// Close 发完缓冲里的事件后关闭 producer；Close 之后不能再 Emit
func (s *EventSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.ch)
		<-s.done
		err = s.producer.Close()
	})
	return err
}
