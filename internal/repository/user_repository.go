package repository

import (
	"context"
	"errors"

	"hagerbet/internal/domain/model"
)

// ユーザーが見つかりませんを統一
var ErrUserNotFound = errors.New("user not found")

// ユーザーは認証サービスが作るので取得だけ
type UserRepository interface {
	// IDからユーザーを1件取得する。
	FindByID(ctx context.Context, userID int64) (*model.User, error)
}
