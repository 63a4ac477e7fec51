package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/analyzers"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/notify"
	"github.com/krishimitra/krishimitra-api/profile"
	"github.com/krishimitra/krishimitra-api/scoring"
	"github.com/krishimitra/krishimitra-api/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	db      *gorm.DB
	cfg     *config.Config
	ledger  *ledger.Ledger
	store   *profile.GormStore
	keeper  *profile.Keeper
	awarder *scoring.Awarder
	policy  *gating.Policy
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	store := profile.NewGormStore(db)
	keeper := profile.NewKeeper(db, store, notify.Discard{}, quietLogger)
	l := ledger.New(ledger.NewGormStore(db), quietLogger)
	return &testEnv{
		db: db,
		cfg: &config.Config{
			JWTSecret:        "test-secret",
			JWTRefreshSecret: "test-refresh-secret",
			AccessTokenTTL:   15 * time.Minute,
			RefreshTokenTTL:  time.Hour,
			MaxUploadBytes:   1 << 20,
		},
		ledger:  l,
		store:   store,
		keeper:  keeper,
		awarder: scoring.NewAwarder(l, keeper, quietLogger),
		policy:  gating.NewPolicy(l, keeper),
	}
}

// router returns an engine that authenticates every request as userID.
func (e *testEnv) router(userID string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})
	return router
}

func (e *testEnv) started(t *testing.T, userID string, score int) {
	t.Helper()
	testutil.SeedUser(t, e.db, userID, score)
	e.keeper.Load(context.Background(), userID, score)
	e.policy.Start(context.Background(), userID)
}

func jsonRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, router *gin.Engine, path, field, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type MockBankAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, filename string, data []byte) (*analyzers.BankReport, error)
}

func (m *MockBankAnalyzer) Analyze(ctx context.Context, filename string, data []byte) (*analyzers.BankReport, error) {
	return m.AnalyzeFunc(ctx, filename, data)
}

type MockSensorAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, filename string, data []byte) (*analyzers.SensorReport, error)
}

func (m *MockSensorAnalyzer) Analyze(ctx context.Context, filename string, data []byte) (*analyzers.SensorReport, error) {
	return m.AnalyzeFunc(ctx, filename, data)
}

type MockCropAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, img analyzers.CropImage) (*analyzers.CropAnalysis, error)
}

func (m *MockCropAnalyzer) Analyze(ctx context.Context, img analyzers.CropImage) (*analyzers.CropAnalysis, error) {
	return m.AnalyzeFunc(ctx, img)
}

type MockForecastProvider struct {
	ForecastForFunc func(ctx context.Context, lat, lon *float64, address string) (*analyzers.Forecast, error)
}

func (m *MockForecastProvider) ForecastFor(ctx context.Context, lat, lon *float64, address string) (*analyzers.Forecast, error) {
	return m.ForecastForFunc(ctx, lat, lon, address)
}

type MockChatResponder struct {
	ReplyFunc func(ctx context.Context, message string, history []analyzers.ChatMessage) string
}

func (m *MockChatResponder) Reply(ctx context.Context, message string, history []analyzers.ChatMessage) string {
	return m.ReplyFunc(ctx, message, history)
}

type MockStellarClient struct {
	ValidateAccountFunc     func(accountID string) error
	BuildDisbursementTxFunc func(source, destination, assetCode, issuer, amount, memo string) (string, error)
}

func (m *MockStellarClient) ValidateAccount(accountID string) error {
	return m.ValidateAccountFunc(accountID)
}

func (m *MockStellarClient) BuildDisbursementTx(source, destination, assetCode, issuer, amount, memo string) (string, error) {
	return m.BuildDisbursementTxFunc(source, destination, assetCode, issuer, amount, memo)
}
