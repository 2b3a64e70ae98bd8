package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/fallback-engine/internal/domain"
	"gorm.io/gorm"
)

// GormUserResolver maps internal user ids to the chat addressing used by the bot.
type GormUserResolver struct {
	db *gorm.DB
}

func NewGormUserResolver(db *gorm.DB) *GormUserResolver {
	return &GormUserResolver{db: db}
}

// Resolve returns the conversation of a private chat with the user. Private chats share
// the user's chat id.
func (r *GormUserResolver) Resolve(ctx context.Context, userID int64) (domain.ConversationRef, error) {
	var model UserModel
	err := r.db.WithContext(ctx).
		Select("id", "telegram_id").
		First(&model, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ConversationRef{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ConversationRef{}, err
	}
	if model.TelegramID == 0 {
		return domain.ConversationRef{}, domain.ErrNotFound
	}

	return domain.ConversationRef{ChatID: model.TelegramID, UserID: model.TelegramID}, nil
}
