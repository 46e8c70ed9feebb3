package app

import (
	"context"
	"errors"
	"strings"

	"busconnect/internal/util"
	"busconnect/pkg/domain"
	"busconnect/pkg/storage"
	"busconnect/pkg/store"
)

const maxImageRefLength = 2048

// CreateProductInput is the body of POST /api/products. Vendor is the vendor's username.
type CreateProductInput struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Price       float64 `json:"price" validate:"gt=0,lt=100000000,cents"`
	Image       string  `json:"image"`
	Vendor      string  `json:"vendor" validate:"required,max=50"`
	Category    string  `json:"category" validate:"max=50"`
	Description string  `json:"description" validate:"max=2000"`
}

// CreateProduct lists a product for a vendor account.
// Inline images are moved to object storage when one is configured.
func (a *App) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Vendor = strings.TrimSpace(in.Vendor)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.Image = strings.TrimSpace(in.Image)
	if err := a.check(in); err != nil {
		return domain.Product{}, err
	}
	if in.Category == "" {
		in.Category = domain.DefaultCategory
	}
	in.Price = roundCents(in.Price)

	image := in.Image
	var uploadedKey string
	switch {
	case storage.IsDataURI(image):
		if _, _, err := storage.DecodeImageDataURI(image); err != nil {
			return domain.Product{}, invalidField("image", imageReason(err))
		}
		if a.images != nil {
			key, url, err := storage.StoreDataURI(ctx, a.images, "products", image)
			if err != nil {
				return domain.Product{}, &StoreError{Op: "upload product image", Err: err}
			}
			uploadedKey, image = key, url
		}
	case len(image) > maxImageRefLength:
		return domain.Product{}, invalidField("image", "must be a data URI or at most 2048 characters")
	}

	product, err := a.store.CreateProduct(ctx, domain.Product{
		Name:        in.Name,
		Price:       in.Price,
		Image:       image,
		Vendor:      in.Vendor,
		Category:    in.Category,
		Description: in.Description,
		CreatedAt:   a.now().UTC(),
	})
	if err != nil {
		if uploadedKey != "" {
			if delErr := a.images.Delete(context.WithoutCancel(ctx), uploadedKey); delErr != nil {
				util.LoggerFromContext(ctx).Warn("remove orphaned product image failed", "key", uploadedKey, "error", delErr)
			}
		}
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Product{}, &NotFoundError{Entity: "vendor"}
		case errors.Is(err, store.ErrRoleMismatch):
			return domain.Product{}, invalidField("vendor", "must reference a vendor account")
		}
		return domain.Product{}, storeFailure("create product", err)
	}
	return product, nil
}

func imageReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrImageTooLarge):
		return "is too large"
	case errors.Is(err, storage.ErrUnsupportedImage):
		return "must be a PNG, JPEG, GIF, or WebP image"
	default:
		return "is not a valid base64 data URI"
	}
}

// ListProducts returns every product, newest first.
func (a *App) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := a.store.ListProducts(ctx)
	if err != nil {
		return nil, storeFailure("list products", err)
	}
	return products, nil
}

// GetProduct returns one product.
func (a *App) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, invalidField("id", "must be a positive integer")
	}
	product, found, err := a.store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, storeFailure("get product", err)
	}
	if !found {
		return domain.Product{}, &NotFoundError{Entity: "product"}
	}
	return product, nil
}

// SearchProducts matches q against name, category, description, and vendor.
func (a *App) SearchProducts(ctx context.Context, q string) ([]domain.Product, error) {
	q, err := searchTerm(q)
	if err != nil {
		return nil, err
	}
	products, err := a.store.SearchProducts(ctx, q)
	if err != nil {
		return nil, storeFailure("search products", err)
	}
	return products, nil
}
