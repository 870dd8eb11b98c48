package middlewares

import (
	"context"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch and memoize catalog reads for the lifetime of one request.
type Loaders struct {
	productLoader  *dataloader.Loader[int, *models.Product]
	preBuildLoader *dataloader.Loader[int, *models.PreBuild]
}

func NewLoaders(db *gorm.DB) *Loaders {
	productReader := &productReader{db: db}
	preBuildReader := &preBuildReader{db: db}

	return &Loaders{
		productLoader:  dataloader.NewBatchedLoader(productReader.getProducts, dataloader.WithWait[int, *models.Product](time.Millisecond)),
		preBuildLoader: dataloader.NewBatchedLoader(preBuildReader.getPreBuilds, dataloader.WithWait[int, *models.PreBuild](time.Millisecond)),
	}
}

// LoaderMiddleware attaches a fresh set of loaders to each request. db is
// looked up per request since the server connects after routes are built.
func LoaderMiddleware(db func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn := db()
		if conn == nil {
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(WithLoaders(c.Request.Context(), NewLoaders(conn)))
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// For returns the request's loaders, or nil outside a request.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// LoaderCatalog resolves catalog entries through the request loaders and
// falls back to Fallback when none are attached (scheduler, CLI tools).
type LoaderCatalog struct {
	Fallback models.CatalogLookup
}

func (c *LoaderCatalog) Resolve(ctx context.Context, itemType models.ItemType, itemId int) (models.CatalogEntry, error) {
	loaders := For(ctx)
	if loaders == nil {
		return c.Fallback.Resolve(ctx, itemType, itemId)
	}
	switch itemType {
	case models.ItemTypeProduct:
		p, err := GetProduct(ctx, itemId)
		if err != nil {
			return nil, err
		}
		return p, nil
	case models.ItemTypePreBuild:
		p, err := GetPreBuild(ctx, itemId)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, models.NewValidationError("item_type", "unknown item type %q", itemType)
	}
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults orders rows by the requested ids. Ids with no row get
// a NotFoundError.
func generateLoaderResults[T any](results []T, ids []int, idOf func(*T) int, resource string) []*dataloader.Result[*T] {
	resultMap := make(map[int]*T, len(results))
	for i := range results {
		resultMap[idOf(&results[i])] = &results[i]
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data, ok := resultMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: &models.NotFoundError{Resource: resource, Id: id}})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: data})
	}
	return loaderResults
}
