package middlewares

import (
	"context"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type productReader struct {
	db *gorm.DB
}

func (r *productReader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.Product] {
	var results []models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Product](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(p *models.Product) int { return p.ID }, string(models.ItemTypeProduct))
}

func GetProduct(ctx context.Context, id int) (*models.Product, error) {
	loaders := For(ctx)
	return loaders.productLoader.Load(ctx, id)()
}

type preBuildReader struct {
	db *gorm.DB
}

func (r *preBuildReader) getPreBuilds(ctx context.Context, ids []int) []*dataloader.Result[*models.PreBuild] {
	var results []models.PreBuild
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.PreBuild](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(p *models.PreBuild) int { return p.ID }, string(models.ItemTypePreBuild))
}

func GetPreBuild(ctx context.Context, id int) (*models.PreBuild, error) {
	loaders := For(ctx)
	return loaders.preBuildLoader.Load(ctx, id)()
}
