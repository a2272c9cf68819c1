package search

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"ideaboard/api/internal/feed"
)

type RecordLoader interface {
	LoadRecord(ctx context.Context, typ ResultType, id string) (Record, error)
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

// indexedTables are the feed tables whose rows contribute to a record.
var indexedTables = []string{"cards", "ideas", "subtasks", "comments"}

// Indexer keeps the search index in step with the change feed.
type Indexer struct {
	sub     feed.Subscriber
	loader  RecordLoader
	service *Service
	log     *zap.Logger
}

func NewIndexer(sub feed.Subscriber, loader RecordLoader, service *Service, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{sub: sub, loader: loader, service: service, log: log.Named("indexer")}
}

// Run consumes the feed until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, table := range indexedTables {
		events, cancel := ix.sub.Subscribe(feed.Topic{Table: table})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					ix.handle(ctx, ev)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// target names the record an event touches.
func target(ev feed.Event) (ResultType, string) {
	row := ev.Row()
	switch ev.Table {
	case "cards":
		return ResultCard, row.ID()
	case "ideas":
		return ResultIdea, row.ID()
	case "subtasks":
		return ResultCard, row.String("card_id")
	case "comments":
		if id := row.String("card_id"); id != "" {
			return ResultCard, id
		}
		return ResultIdea, row.String("idea_id")
	}
	return "", ""
}

func (ix *Indexer) handle(ctx context.Context, ev feed.Event) {
	if !ix.service.Writable() {
		return
	}
	typ, id := target(ev)
	if id == "" {
		return
	}
	if ev.Type == feed.Delete && (ev.Table == "cards" || ev.Table == "ideas") {
		ix.service.Delete(id)
		return
	}

	record, err := ix.loader.LoadRecord(ctx, typ, id)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		ix.service.Delete(id)
	case err != nil:
		if ctx.Err() == nil {
			ix.log.Warn("load search record", zap.String("table", ev.Table), zap.String("id", id), zap.Error(err))
		}
	default:
		ix.service.Index(record)
	}
}
