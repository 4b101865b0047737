package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"hagerbet/internal/domain/model"
	repo "hagerbet/internal/repository"
)

type AddressDTO struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"user_id"`
	AddressType string  `json:"address_type"`
	Street      string  `json:"street"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	Country     string  `json:"country"`
	ZipCode     string  `json:"zip_code"`
	IsDefault   bool    `json:"is_default"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   *string `json:"updated_at,omitempty"`
}

type AddressInput struct {
	AddressType string
	Street      string
	City        string
	State       string
	Country     string
	ZipCode     string
}

type AddressUsecase struct {
	addresses repo.AddressRepository
	clock     Clock
}

func NewAddressUsecase(addresses repo.AddressRepository, clock Clock) *AddressUsecase {
	return &AddressUsecase{addresses: addresses, clock: clock}
}

func (u *AddressUsecase) List(ctx context.Context, userID int64) ([]AddressDTO, error) {
	if userID <= 0 {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	list, err := u.addresses.ListByUserID(ctx, userID)
	if err != nil {
		return nil, dbError(err)
	}

	out := make([]AddressDTO, 0, len(list))
	for i := range list {
		out = append(out, toAddressDTO(&list[i]))
	}
	return out, nil
}

func (u *AddressUsecase) Create(ctx context.Context, userID int64, in AddressInput) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	in, err := normalizeAddress(in)
	if err != nil {
		return AddressDTO{}, err
	}

	now := u.clock.Now()
	created, err := u.addresses.Create(ctx, model.Address{
		UserID:      userID,
		AddressType: model.AddressType(in.AddressType),
		Street:      in.Street,
		City:        in.City,
		State:       in.State,
		Country:     in.Country,
		ZipCode:     in.ZipCode,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return AddressDTO{}, dbError(err)
	}
	return toAddressDTO(&created), nil
}

func (u *AddressUsecase) Update(ctx context.Context, userID int64, addressID int64, in AddressInput) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := u.checkOwned(ctx, userID, addressID); err != nil {
		return AddressDTO{}, err
	}
	in, err := normalizeAddress(in)
	if err != nil {
		return AddressDTO{}, err
	}

	// 既存の注文はスナップショットを持つので影響しない
	if err := u.addresses.Update(ctx, model.Address{
		ID:          addressID,
		AddressType: model.AddressType(in.AddressType),
		Street:      in.Street,
		City:        in.City,
		State:       in.State,
		Country:     in.Country,
		ZipCode:     in.ZipCode,
		UpdatedAt:   u.clock.Now(),
	}); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AddressDTO{}, NotFoundError("address not found")
		}
		return AddressDTO{}, dbError(err)
	}

	a, err := u.addresses.FindByID(ctx, addressID)
	if err != nil {
		return AddressDTO{}, dbError(err)
	}
	return toAddressDTO(&a), nil
}

func (u *AddressUsecase) Delete(ctx context.Context, userID int64, addressID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := u.checkOwned(ctx, userID, addressID); err != nil {
		return err
	}

	if err := u.addresses.Delete(ctx, addressID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("address not found")
		}
		return dbError(err)
	}
	return nil
}

func (u *AddressUsecase) SetDefault(ctx context.Context, userID int64, addressID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := u.checkOwned(ctx, userID, addressID); err != nil {
		return err
	}

	//user内でdefaultは1つ
	if err := u.addresses.SetDefault(ctx, userID, addressID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError("address not found")
		}
		return dbError(err)
	}
	return nil
}

// 他人の住所は存在しない扱い
func (u *AddressUsecase) checkOwned(ctx context.Context, userID, addressID int64) error {
	if addressID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	owned, err := u.addresses.IsOwnedByUser(ctx, addressID, userID)
	if err != nil {
		return dbError(err)
	}
	if !owned {
		return NotFoundError("address not found")
	}
	return nil
}

func normalizeAddress(in AddressInput) (AddressInput, error) {
	in.AddressType = strings.ToLower(strings.TrimSpace(in.AddressType))
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.TrimSpace(in.State)
	in.Country = strings.TrimSpace(in.Country)
	in.ZipCode = strings.TrimSpace(in.ZipCode)
	if in.Country == "" {
		in.Country = "Ethiopia"
	}

	fields := map[string]string{}
	switch model.AddressType(in.AddressType) {
	case model.AddressTypeBilling, model.AddressTypeShipping:
	default:
		fields["address_type"] = "invalid choice"
	}
	if in.Street == "" {
		fields["street"] = "required"
	}
	if in.City == "" {
		fields["city"] = "required"
	}
	if in.State == "" {
		fields["state"] = "required"
	}
	if in.ZipCode == "" {
		fields["zip_code"] = "required"
	}
	if len(fields) > 0 {
		return AddressInput{}, ValidationError("invalid address", fields)
	}
	return in, nil
}

func toAddressDTO(a *model.Address) AddressDTO {
	dto := AddressDTO{
		ID:          a.ID,
		UserID:      a.UserID,
		AddressType: string(a.AddressType),
		Street:      a.Street,
		City:        a.City,
		State:       a.State,
		Country:     a.Country,
		ZipCode:     a.ZipCode,
		IsDefault:   a.IsDefault,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
	t := a.UpdatedAt.Format(time.RFC3339)
	dto.UpdatedAt = &t
	return dto
}
