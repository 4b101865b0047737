package model

import "time"

type AddressType string

const (
	AddressTypeBilling  AddressType = "billing"
	AddressTypeShipping AddressType = "shipping"
)

// 住所帳の住所
type Address struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//billing / shipping
	AddressType AddressType `gorm:"type:varchar(10);not null" json:"address_type"`

	//番地など
	Street string `gorm:"type:varchar(255);not null" json:"street"`

	//市区町村
	City string `gorm:"type:varchar(100);not null" json:"city"`

	//州・地域
	State string `gorm:"type:varchar(100);not null" json:"state"`

	Country string `gorm:"type:varchar(100);not null;default:'Ethiopia'" json:"country"`

	//郵便番号
	ZipCode string `gorm:"type:varchar(20);not null" json:"zip_code"`

	//このユーザーのデフォルト住所か
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// 注文に埋め込む住所のコピー（住所帳を後で変えても注文側は変わらない）
type AddressSnapshot struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode string `json:"zip_code"`
}

func (a Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		Country: a.Country,
		ZipCode: a.ZipCode,
	}
}
