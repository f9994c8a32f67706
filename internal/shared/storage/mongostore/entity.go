package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
)

// entityDoc 实体文档，附带用于过期判断的历史长度
type entityDoc struct {
	model.Entity `bson:",inline"`
	HistoryLen   int       `bson:"history_len"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// SaveEntities 逐个 ReplaceOne(upsert)
//
// 过滤条件要求已存文档的 history_len 不大于新快照；
// 不满足时 upsert 会撞上 _id 唯一键，视为过期写入忽略。
func (s *Store) SaveEntities(ctx context.Context, entities []*model.Entity) error {
	col := s.col(ColEntities)
	now := time.Now()
	for _, e := range entities {
		n := len(e.StateHistory)
		doc := entityDoc{Entity: *e, HistoryLen: n, UpdatedAt: now}
		filter := bson.D{
			{Key: "_id", Value: e.UID},
			{Key: "history_len", Value: bson.D{{Key: "$lte", Value: n}}},
		}
		_, err := col.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
		if err = wrapError(err); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			return err
		}
	}
	return nil
}

// GetEntity 按 UID 读取
func (s *Store) GetEntity(ctx context.Context, uid string) (*model.Entity, error) {
	doc, err := findOne[entityDoc](ctx, s.col(ColEntities), bson.D{{Key: "_id", Value: uid}})
	if err != nil {
		return nil, err
	}
	return &doc.Entity, nil
}

// ListEntities 按条件列出，按 _id 排序
func (s *Store) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*model.Entity, error) {
	q := bson.D{}
	if filter.Type != "" {
		q = append(q, bson.E{Key: "type", Value: filter.Type})
	}
	if filter.State != "" {
		q = append(q, bson.E{Key: "state", Value: filter.State})
	}
	if filter.PilotUID != "" {
		q = append(q, bson.E{Key: "pilot_uid", Value: filter.PilotUID})
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	docs, err := findMany[entityDoc](ctx, s.col(ColEntities), q, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, len(docs))
	for i, d := range docs {
		out[i] = &d.Entity
	}
	return out, nil
}

// CountByState 聚合统计
func (s *Store) CountByState(ctx context.Context) (map[model.State]int, error) {
	pipeline := bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.col(ColEntities).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	counts := make(map[model.State]int)
	for cursor.Next(ctx) {
		var row struct {
			State string `bson:"_id"`
			N     int    `bson:"n"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[model.State(row.State)] = row.N
	}
	return counts, cursor.Err()
}

var _ storage.StateStore = (*Store)(nil)
