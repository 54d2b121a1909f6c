package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/lease_backend/models"
	"gorm.io/gorm"
)

type reservationReader struct {
	db *gorm.DB
}

func (r *reservationReader) getReservations(ctx context.Context, ids []string) []*dataloader.Result[*models.Reservation] {
	var results []models.Reservation
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Reservation](len(ids), err)
	}

	resultMap := make(map[string]*models.Reservation, len(results))
	for i := range results {
		resultMap[results[i].ID] = &results[i]
	}
	loaderResults := make([]*dataloader.Result[*models.Reservation], 0, len(ids))
	for _, id := range ids {
		if result, ok := resultMap[id]; ok {
			loaderResults = append(loaderResults, &dataloader.Result[*models.Reservation]{Data: result})
		} else {
			loaderResults = append(loaderResults, &dataloader.Result[*models.Reservation]{Error: models.ErrNotFound})
		}
	}
	return loaderResults
}

func GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	loaders := For(ctx)
	return loaders.reservationLoader.Load(ctx, id)()
}

// GetReservations loads every id in one query. Missing ids come back nil with ErrNotFound.
func GetReservations(ctx context.Context, ids []string) ([]*models.Reservation, []error) {
	loaders := For(ctx)
	return loaders.reservationLoader.LoadMany(ctx, ids)()
}
