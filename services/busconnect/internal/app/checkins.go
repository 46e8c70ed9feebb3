package app

import (
	"context"
	"errors"
	"strings"

	"busconnect/pkg/domain"
	"busconnect/pkg/store"
)

// CheckinInput is the body of POST /api/checkins.
type CheckinInput struct {
	PassengerID   int64  `json:"passenger_id" validate:"required,gt=0"`
	PassengerName string `json:"passenger_name" validate:"max=50"`
	Location      string `json:"location" validate:"required,max=255"`
}

// CreateCheckin records the passenger's location, superseding any earlier checkin.
func (a *App) CreateCheckin(ctx context.Context, in CheckinInput) (domain.Checkin, error) {
	in.PassengerName = strings.TrimSpace(in.PassengerName)
	in.Location = strings.TrimSpace(in.Location)
	if err := a.check(in); err != nil {
		return domain.Checkin{}, err
	}
	checkin, err := a.store.UpsertCheckin(ctx, domain.Checkin{
		PassengerID:   in.PassengerID,
		PassengerName: in.PassengerName,
		Location:      in.Location,
		Timestamp:     a.now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Checkin{}, &NotFoundError{Entity: "passenger"}
		case errors.Is(err, store.ErrRoleMismatch):
			return domain.Checkin{}, invalidField("passenger_id", "must reference a passenger account")
		}
		return domain.Checkin{}, storeFailure("create checkin", err)
	}
	return checkin, nil
}

// ListCheckins returns every current checkin, most recent first.
func (a *App) ListCheckins(ctx context.Context) ([]domain.Checkin, error) {
	checkins, err := a.store.ListCheckins(ctx)
	if err != nil {
		return nil, storeFailure("list checkins", err)
	}
	return checkins, nil
}

// GetCheckin returns one checkin.
func (a *App) GetCheckin(ctx context.Context, id int64) (domain.Checkin, error) {
	if id <= 0 {
		return domain.Checkin{}, invalidField("id", "must be a positive integer")
	}
	checkin, found, err := a.store.GetCheckin(ctx, id)
	if err != nil {
		return domain.Checkin{}, storeFailure("get checkin", err)
	}
	if !found {
		return domain.Checkin{}, &NotFoundError{Entity: "checkin"}
	}
	return checkin, nil
}
