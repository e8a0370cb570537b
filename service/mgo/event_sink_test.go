package mgo

import (
	"context"
	"sync"
	"testing"
	"time"

	"PPGate/service/events"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeColl struct {
	mu      sync.Mutex
	batches [][]interface{}
}

func (f *fakeColl) InsertMany(_ context.Context, docs []interface{}, _ ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]interface{}(nil), docs...))
	return &mongo.InsertManyResult{}, nil
}

func (f *fakeColl) total() (batches, docs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		docs += len(b)
	}
	return len(f.batches), docs
}

func TestEventSinkBatches(t *testing.T) {
	coll := &fakeColl{}
	s := newEventSink(coll, Config{Batch: 2, FlushEvery: time.Hour}, nil)
	for i := 0; i < 5; i++ {
		s.Emit(events.Event{Type: events.Join, RoomID: "r1", SessionID: "s", At: time.Now()})
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// 两个满批加关闭时的一条
	if b, d := coll.total(); b != 3 || d != 5 {
		t.Fatalf("batches=%d docs=%d", b, d)
	}
}

func TestEventSinkFlushesOnTimer(t *testing.T) {
	coll := &fakeColl{}
	s := newEventSink(coll, Config{Batch: 100, FlushEvery: 20 * time.Millisecond}, nil)
	defer s.Close()
	s.Emit(events.Event{Type: events.Lock, RoomID: "r1"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, d := coll.total(); d == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timer flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToDoc(t *testing.T) {
	at := time.Unix(100, 0)
	doc := toDoc(events.Event{Type: events.Leave, RoomID: "r1", SessionID: "s1", At: at, Attrs: map[string]any{"consented": true}})
	want := bson.M{"type": "leave", "room": "r1", "session": "s1", "at": at, "attrs": map[string]any{"consented": true}}
	if len(doc) != len(want) || doc["session"] != "s1" || doc["type"] != "leave" {
		t.Fatalf("doc %v", doc)
	}
	if _, ok := toDoc(events.Event{Type: events.Lock, RoomID: "r1"})["session"]; ok {
		t.Fatal("empty session should be omitted")
	}
}
