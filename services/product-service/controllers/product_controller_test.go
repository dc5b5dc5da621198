package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
	"github.com/kevin-soria/system-design-playground/services/product-service/models"
	"github.com/kevin-soria/system-design-playground/services/product-service/services"
)

type fakeProductService struct {
	listCalls int
	lastSkip  int
	lastLimit int
	lastPatch models.ProductPatch
	lastInput models.ProductInput
	fx        services.SideEffects
	err       error
	product   *models.Product
}

func (f *fakeProductService) GetProduct(_ context.Context, id string) (*models.Product, services.SideEffects, error) {
	if f.err != nil {
		return nil, f.fx, f.err
	}
	p := *f.product
	p.ID = id
	return &p, f.fx, nil
}

func (f *fakeProductService) ListProducts(_ context.Context, skip, limit int) ([]*models.Product, services.SideEffects, error) {
	f.listCalls++
	f.lastSkip, f.lastLimit = skip, limit
	return []*models.Product{}, f.fx, f.err
}

func (f *fakeProductService) CreateProduct(_ context.Context, in models.ProductInput) (*models.Product, services.SideEffects, error) {
	f.lastInput = in
	if f.err != nil {
		return nil, f.fx, f.err
	}
	return &models.Product{ID: "new-id", Name: in.Name, Price: in.Price, Stock: in.Stock}, f.fx, nil
}

func (f *fakeProductService) UpdateProduct(_ context.Context, id string, patch models.ProductPatch) (*models.Product, services.SideEffects, error) {
	f.lastPatch = patch
	if f.err != nil {
		return nil, f.fx, f.err
	}
	p := patch.Apply(*f.product)
	p.ID = id
	return &p, f.fx, nil
}

func (f *fakeProductService) DeleteProduct(context.Context, string) (services.SideEffects, error) {
	return f.fx, f.err
}

func newTestRouter(svc ProductServiceAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	pc := NewProductController(svc)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.GET("/products", pc.GetProducts)
	r.GET("/products/:id", pc.GetProductByID)
	r.POST("/products", pc.CreateProduct)
	r.PUT("/products/:id", pc.UpdateProduct)
	r.DELETE("/products/:id", pc.DeleteProduct)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetProducts_Pagination(t *testing.T) {
	svc := &fakeProductService{}
	r := newTestRouter(svc)

	rec := do(r, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.lastSkip)
	assert.Equal(t, 100, svc.lastLimit)
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(r, http.MethodGet, "/products?skip=5&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.lastSkip)
	assert.Equal(t, 10, svc.lastLimit)
}

func TestGetProducts_InvalidPagination(t *testing.T) {
	svc := &fakeProductService{}
	r := newTestRouter(svc)

	for _, q := range []string{"skip=-1", "limit=0", "limit=abc", "limit=100000"} {
		rec := do(r, http.MethodGet, "/products?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Zero(t, svc.listCalls)
}

func TestGetProductByID_CacheHeaderAndNotFound(t *testing.T) {
	svc := &fakeProductService{
		product: &models.Product{Name: "Widget", Price: decimal.RequireFromString("10.99"), Stock: 5},
		fx:      services.SideEffects{CacheHit: true},
	}
	r := newTestRouter(svc)

	rec := do(r, http.MethodGet, "/products/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get(CacheHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, "10.99", body["price"])

	svc.err = apperrors.NotFound("product abc not found")
	svc.fx = services.SideEffects{}
	rec = do(r, http.MethodGet, "/products/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestCreateProduct(t *testing.T) {
	svc := &fakeProductService{}
	r := newTestRouter(svc)

	rec := do(r, http.MethodPost, "/products", `{"name":"Widget","price":"10.99","stock":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "10.99", svc.lastInput.Price.String())
	assert.Empty(t, rec.Header().Get(CacheHeader))

	rec = do(r, http.MethodPost, "/products", `{"name":"Widget","price":10.99}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 0, svc.lastInput.Stock)
}

func TestCreateProduct_Rejections(t *testing.T) {
	svc := &fakeProductService{}
	r := newTestRouter(svc)

	cases := map[string]string{
		"malformed json": `{"name":`,
		"client id":      `{"id":"x","name":"Widget","price":"1"}`,
		"zero price":     `{"name":"Widget","price":"0"}`,
		"exponent price": `{"name":"Widget","price":"1e3"}`,
		"negative stock": `{"name":"Widget","price":"1","stock":-1}`,
		"missing name":   `{"price":"1"}`,
		"missing price":  `{"name":"Widget"}`,
		"bool price":     `{"name":"Widget","price":true}`,
	}
	for name, body := range cases {
		rec := do(r, http.MethodPost, "/products", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Empty(t, svc.lastInput.Name)
}

func TestCreateProduct_StoreFailure(t *testing.T) {
	svc := &fakeProductService{err: apperrors.Persistence("insert failed", errors.New("boom"))}
	r := newTestRouter(svc)

	rec := do(r, http.MethodPost, "/products", `{"name":"Widget","price":"1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestCreateProduct_PublishFaultStillCreated(t *testing.T) {
	svc := &fakeProductService{fx: services.SideEffects{PublishFault: apperrors.BrokerFault("publish", errors.New("down"))}}
	r := newTestRouter(svc)

	rec := do(r, http.MethodPost, "/products", `{"name":"Widget","price":"1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpdateProduct_PartialBody(t *testing.T) {
	svc := &fakeProductService{product: &models.Product{Name: "Widget", Price: decimal.RequireFromString("10.99"), Stock: 5}}
	r := newTestRouter(svc)

	rec := do(r, http.MethodPut, "/products/abc", `{"stock":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastPatch.Stock)
	assert.Nil(t, svc.lastPatch.Name)
	assert.Nil(t, svc.lastPatch.Price)

	var body models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Stock)
	assert.Equal(t, "Widget", body.Name)

	rec = do(r, http.MethodPut, "/products/abc", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastPatch.IsEmpty())

	rec = do(r, http.MethodPut, "/products/abc", `{"price":"-2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProduct(t *testing.T) {
	svc := &fakeProductService{}
	r := newTestRouter(svc)

	rec := do(r, http.MethodDelete, "/products/abc", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	svc.err = apperrors.NotFound("product not found")
	rec = do(r, http.MethodDelete, "/products/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewHealthController("product-service")
	r := gin.New()
	r.GET("/", hc.Root)
	r.GET("/health", hc.Health)

	rec := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "product-service is running")
}
