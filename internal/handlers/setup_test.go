package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/akarpov91/vending_machine/internal/hash"
	"github.com/akarpov91/vending_machine/internal/locker"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	"github.com/akarpov91/vending_machine/internal/models"
	"github.com/akarpov91/vending_machine/internal/mykafka"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	T       *testing.T
	E       *echo.Echo
	DB      *gorm.DB
	Auth    *AuthHandler
	Product *ProductHandler
	Vending *VendingHandler
	MW      *authmw.Middleware
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}

	// A second pooled connection would see its own empty :memory: database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.ActiveSession{}, &models.Product{}); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}

	return &testEnv{
		T:       t,
		E:       echo.New(),
		DB:      db,
		Auth:    &AuthHandler{DB: db, JWTSecret: testSecret, Producer: &mykafka.Producer{}},
		Product: &ProductHandler{DB: db, Producer: &mykafka.Producer{}, ESIndex: "products"},
		Vending: &VendingHandler{DB: db, Producer: &mykafka.Producer{}, Locks: locker.New()},
		MW:      &authmw.Middleware{DB: db, JWTSecret: testSecret},
	}
}

func (env *testEnv) doJSONRequest(method, path string, body interface{}) (*httptest.ResponseRecorder, echo.Context) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}

// asUser fills the context the way RequireAuth would.
func (env *testEnv) asUser(c echo.Context, u models.User) {
	c.Set(authmw.CtxUserID, u.ID)
	c.Set(authmw.CtxUsername, u.Username)
	c.Set(authmw.CtxRole, u.Role)
}

func (env *testEnv) createUser(username, role string, deposit int) models.User {
	pwHash, err := hash.HashPassword("password123")
	require.NoError(env.T, err)

	user := models.User{
		Username:     username,
		PasswordHash: pwHash,
		Role:         role,
		Deposit:      deposit,
	}
	require.NoError(env.T, env.DB.Create(&user).Error)
	return user
}

func (env *testEnv) createProduct(sellerID uint, name string, cost, amount int) models.Product {
	product := models.Product{
		ProductName:     name,
		Cost:            cost,
		AmountAvailable: amount,
		SellerID:        sellerID,
	}
	require.NoError(env.T, env.DB.Create(&product).Error)
	return product
}

// mintSession signs a token and persists the matching session record.
func (env *testEnv) mintSession(u models.User) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      u.ID,
		"username": u.Username,
		"role":     u.Role,
		"iat":      now.Unix(),
		"exp":      now.Add(24 * time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(env.T, err)
	require.NoError(env.T, env.DB.Create(&models.ActiveSession{UserID: u.ID, Token: token}).Error)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func bearerRequest(env *testEnv, method, path, token string, body interface{}) (*httptest.ResponseRecorder, echo.Context) {
	rec, c := env.doJSONRequest(method, path, body)
	c.Request().Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	return rec, c
}
