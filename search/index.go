// Package search maintains a full-text index over persisted messages and
// answers content queries. Indexing rides the event fanout, off the message
// delivery path, so a slow disk never delays routing.
package search

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/blugelabs/bluge"

	"chatd/domain"
	"chatd/domain/event"
)

// Hit is one search result, rebuilt from stored fields.
type Hit struct {
	MessageID uint64    `json:"id"`
	Sender    string    `json:"senderUsername"`
	Content   string    `json:"content"`
	Group     bool      `json:"groupMessage"`
	CreatedAt time.Time `json:"timestamp"`
}

type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(writer *bluge.Writer, log *slog.Logger) *Index {
	return &Index{writer: writer, log: log}
}

// Consume indexes stored messages as they flow off the fanout. Messages
// without text content (bare images) are skipped.
func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	stored, ok := e.(event.MessageStored)
	if !ok {
		return nil
	}
	message := stored.Message
	if message.Content == "" {
		return nil
	}
	return i.add(message)
}

func (i *Index) add(message domain.Message) error {
	scope := "group"
	if message.Private() {
		scope = message.ConversationID
	}
	doc := bluge.NewDocument(strconv.FormatUint(message.ID, 10)).
		AddField(bluge.NewTextField("content", message.Content).StoreValue()).
		AddField(bluge.NewKeywordField("sender", message.Sender).StoreValue()).
		AddField(bluge.NewKeywordField("scope", scope).StoreValue()).
		AddField(bluge.NewStoredOnlyField("created_at",
			[]byte(message.CreatedAt.Format(time.RFC3339Nano))))
	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return err
	}
	i.log.Debug("Message indexed", "id", message.ID)
	return nil
}

// Search runs a match query over message content and returns up to limit
// hits, most relevant first, plus the total match count.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, uint64, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	matchQuery := bluge.NewMatchQuery(query).SetField("content")
	request := bluge.NewTopNSearch(limit, matchQuery).WithStandardAggregations()
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, 0, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, 0, err
		}
		if match == nil {
			break
		}
		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID, _ = strconv.ParseUint(string(value), 10, 64)
			case "content":
				hit.Content = string(value)
			case "sender":
				hit.Sender = string(value)
			case "scope":
				hit.Group = string(value) == "group"
			case "created_at":
				hit.CreatedAt, _ = time.Parse(time.RFC3339Nano, string(value))
			}
			return true
		})
		if err != nil {
			return nil, 0, err
		}
		hits = append(hits, hit)
	}
	return hits, iterator.Aggregations().Count(), nil
}
