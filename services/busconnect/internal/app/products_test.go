package app

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"busconnect/pkg/domain"
)

var pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52}

type fakeImages struct {
	mu      sync.Mutex
	objects map[string]int
	deleted []string
}

func (f *fakeImages) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]int{}
	}
	f.objects[key] = len(data)
	return nil
}

func (f *fakeImages) URL(key string) string { return "https://img.example/" + key }

func (f *fakeImages) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func TestCreateProduct(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	vendor, _ := signUp(t, a, "vera", domain.RoleVendor)

	p, err := a.CreateProduct(ctx, CreateProductInput{Name: " Samosa ", Price: 12.5, Vendor: "vera", Image: "🥟"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if p.ID == 0 || p.VendorID != vendor.ID || p.Category != domain.DefaultCategory || p.Name != "Samosa" {
		t.Fatalf("unexpected product: %+v", p)
	}
	list, err := a.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("expected product in list once, got %+v", list)
	}
	got, err := a.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Image != "🥟" {
		t.Fatalf("unexpected image %q", got.Image)
	}
}

func TestCreateProductErrors(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	signUp(t, a, "pat", domain.RolePassenger)

	var ve *ValidationError
	if _, err := a.CreateProduct(ctx, CreateProductInput{Vendor: "pat"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for missing name/price, got %v", err)
	}
	var nf *NotFoundError
	if _, err := a.CreateProduct(ctx, CreateProductInput{Name: "Tea", Price: 5, Vendor: "ghost"}); !errors.As(err, &nf) || nf.Entity != "vendor" {
		t.Fatalf("expected vendor NotFoundError, got %v", err)
	}
	if _, err := a.CreateProduct(ctx, CreateProductInput{Name: "Tea", Price: 5, Vendor: "pat"}); !errors.As(err, &ve) || ve.Fields[0].Field != "vendor" {
		t.Fatalf("expected vendor ValidationError, got %v", err)
	}
	if _, err := a.CreateProduct(ctx, CreateProductInput{Name: "Tea", Price: 5, Vendor: "pat", Image: "data:text/html;base64,PGI+"}); !errors.As(err, &ve) || ve.Fields[0].Field != "image" {
		t.Fatalf("expected image ValidationError, got %v", err)
	}
	if _, err := a.CreateProduct(ctx, CreateProductInput{Name: "Tea", Price: 5, Vendor: "pat", Image: strings.Repeat("x", 3000)}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for long image ref, got %v", err)
	}
}

func TestCreateProductOffloadsInlineImage(t *testing.T) {
	images := &fakeImages{}
	a, _ := newTestApp(t, Config{Images: images})
	ctx := context.Background()
	signUp(t, a, "vera", domain.RoleVendor)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	p, err := a.CreateProduct(ctx, CreateProductInput{Name: "Pie", Price: 20, Vendor: "vera", Image: uri})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if !strings.HasPrefix(p.Image, "https://img.example/products/") {
		t.Fatalf("expected object storage url, got %q", p.Image)
	}
	if len(images.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(images.objects))
	}

	if _, err := a.CreateProduct(ctx, CreateProductInput{Name: "Pie", Price: 20, Vendor: "ghost", Image: uri}); err == nil {
		t.Fatalf("expected unknown vendor to fail")
	}
	if len(images.deleted) != 1 || len(images.objects) != 1 {
		t.Fatalf("expected orphaned upload to be removed, deleted=%v", images.deleted)
	}
}

func TestSearchProducts(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	signUp(t, a, "vera", domain.RoleVendor)
	for _, in := range []CreateProductInput{
		{Name: "Rooibos Tea", Price: 3, Vendor: "vera", Category: "Drinks"},
		{Name: "Biltong", Price: 9, Vendor: "vera", Category: "Snacks"},
	} {
		if _, err := a.CreateProduct(ctx, in); err != nil {
			t.Fatalf("create %s: %v", in.Name, err)
		}
	}
	got, err := a.SearchProducts(ctx, "drink")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Rooibos Tea" {
		t.Fatalf("unexpected search result: %+v", got)
	}
}

func TestCreateProductPriceIsWholeCents(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	signUp(t, a, "vera", domain.RoleVendor)

	for _, price := range []float64{0.004, 12.345, 0.001} {
		var ve *ValidationError
		_, err := a.CreateProduct(ctx, CreateProductInput{Name: "Tea", Price: price, Vendor: "vera"})
		if !errors.As(err, &ve) || len(ve.Fields) != 1 || ve.Fields[0].Field != "price" {
			t.Fatalf("price %v: expected price ValidationError, got %v", price, err)
		}
	}
	list, err := a.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected prices must not reach the store, got %+v", list)
	}

	for _, tc := range []struct {
		in   float64
		want float64
	}{
		{12.35, 12.35},
		{0.1 + 0.2, 0.3},
		{99999999.99, 99999999.99},
	} {
		p, err := a.CreateProduct(ctx, CreateProductInput{Name: "Pie", Price: tc.in, Vendor: "vera"})
		if err != nil {
			t.Fatalf("create price %v: %v", tc.in, err)
		}
		got, err := a.GetProduct(ctx, p.ID)
		if err != nil {
			t.Fatalf("get product: %v", err)
		}
		if p.Price != tc.want || got.Price != tc.want {
			t.Fatalf("price %v: created %v, stored %v, want %v", tc.in, p.Price, got.Price, tc.want)
		}
	}
}
