package repository

import (
	"context"

	"github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"github.com/smallbiznis/insightdesk/pkg/db/option"
	"github.com/smallbiznis/insightdesk/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	rows, err := repository.ProvideStore[domain.User](db).Find(ctx, nil,
		option.WithSortBy(option.SortBy{Column: "id"}),
	)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *row)
	}
	return users, nil
}
