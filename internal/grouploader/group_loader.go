package grouploader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/repository"
)

// GroupLoader batches group lookups within one request so permission
// listings that decorate many inherited grants hit the directory once.
type GroupLoader struct {
	Loader *dataloader.Loader
}

// NewGroupLoader builds a request-scoped loader over the directory.
func NewGroupLoader(repo repository.DirectoryRepository) *GroupLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid UUID: %w", err)}}
			}
			ids[i] = id
		}

		groups, err := repo.GetGroupsByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		groupMap := make(map[uuid.UUID]domain.Group, len(groups))
		for _, g := range groups {
			groupMap[g.ID] = g
		}

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if g, ok := groupMap[id]; ok {
				results[i] = &dataloader.Result{Data: g}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &GroupLoader{Loader: loader}
}

// Load resolves one group through the batch loader.
func (l *GroupLoader) Load(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	data, err := thunk()
	if err != nil {
		return domain.Group{}, err
	}
	group, ok := data.(domain.Group)
	if !ok {
		return domain.Group{}, nil
	}
	return group, nil
}
