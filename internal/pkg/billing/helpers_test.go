package billing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/pixelfox-billing/app/models"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/replay"
)

const (
	testBundleID  = "com.pixelfox.app"
	productLite   = "com.pixelfox.lite.monthly"
	productStd    = "com.pixelfox.standard.monthly"
	productPro    = "com.pixelfox.pro.monthly"
	productAddon  = "com.pixelfox.storage.addon"
	productLegacy = "com.pixelfox.legacy.gold"
)

var testTiers = map[string]string{
	productLite:  models.TierLite,
	productStd:   models.TierStandard,
	productPro:   models.TierPro,
	productAddon: models.TierAddon,
}

func newSigningKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signClaims(t *testing.T, key *ecdsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func ms(ts time.Time) int64 {
	return ts.UnixMilli()
}

func txClaims(originalTransactionID, productID string, purchase, expires time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"transactionId":         originalTransactionID + "-" + productID,
		"originalTransactionId": originalTransactionID,
		"productId":             productID,
		"bundleId":              testBundleID,
		"purchaseDate":          ms(purchase),
		"originalPurchaseDate":  ms(purchase),
		"expiresDate":           ms(expires),
		"environment":           "Sandbox",
		"type":                  "Auto-Renewable Subscription",
	}
}

func envelopeClaims(notificationType, subtype, notificationUUID string, data jwt.MapClaims) jwt.MapClaims {
	data["bundleId"] = testBundleID
	data["environment"] = "Sandbox"
	return jwt.MapClaims{
		"notificationType": notificationType,
		"subtype":          subtype,
		"notificationUUID": notificationUUID,
		"version":          "2.0",
		"signedDate":       ms(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		"data":             data,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Subscription{},
		&models.AccountEntitlement{},
		&models.NotificationRecord{},
		&models.DeletionSchedule{},
	))
	return db
}

// fixture wires a Service against an in-memory database, a fixed clock and a
// freshly generated signing key.
type fixture struct {
	t        *testing.T
	db       *gorm.DB
	repo     Repository
	key      *ecdsa.PrivateKey
	verifier *Verifier
	store    *replay.MemoryStore
	recorder *recordingRecorder
	now      time.Time
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, pubPEM := newSigningKey(t)
	verifier, err := NewVerifier(&Config{
		BundleID:         testBundleID,
		VerificationMode: VerificationStrict,
		PublicKeyPEM:     pubPEM,
	})
	require.NoError(t, err)

	db := newTestDB(t)
	f := &fixture{
		t:        t,
		db:       db,
		repo:     NewRepository(db),
		key:      key,
		verifier: verifier,
		store:    replay.NewMemoryStore(replay.DefaultMaxEntries),
		recorder: &recordingRecorder{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = f.newService(f.repo)
	return f
}

func (f *fixture) newService(repo Repository) *Service {
	return NewService(Dependencies{
		Repo:     repo,
		Verifier: f.verifier,
		Catalog:  NewStaticCatalog(testTiers),
		Policy:   Policy{GracePeriod: DefaultGracePeriod, DeletionHorizon: DefaultDeletionHorizon},
		Guard:    replay.NewGuard(f.store, replay.DefaultTTL),
		Recorder: f.recorder,
		Now:      func() time.Time { return f.now },
	})
}

func (f *fixture) seedAccount(accountID uint, token string) {
	f.t.Helper()
	row := &models.AccountEntitlement{AccountID: accountID, Tier: models.TierFree, StorageQuotaBytes: 1}
	if token != "" {
		row.AppAccountToken = &token
	}
	require.NoError(f.t, f.db.Create(row).Error)
}

// envelope signs a notification whose transaction belongs to originalTransactionID.
func (f *fixture) envelope(notificationType, subtype, notificationUUID string, tx jwt.MapClaims) string {
	f.t.Helper()
	data := jwt.MapClaims{}
	if tx != nil {
		data["signedTransactionInfo"] = signClaims(f.t, f.key, tx)
	}
	return signClaims(f.t, f.key, envelopeClaims(notificationType, subtype, notificationUUID, data))
}

func (f *fixture) handle(payload string) *ProcessingResult {
	f.t.Helper()
	res, err := f.svc.HandleNotification(f.t.Context(), payload)
	require.NoError(f.t, err)
	require.NotNil(f.t, res)
	return res
}

func (f *fixture) subscription(originalTransactionID string) *models.Subscription {
	f.t.Helper()
	var sub models.Subscription
	require.NoError(f.t, f.db.Where("original_transaction_id = ?", originalTransactionID).First(&sub).Error)
	return &sub
}

func (f *fixture) entitlement(accountID uint) models.AccountEntitlement {
	f.t.Helper()
	var row models.AccountEntitlement
	require.NoError(f.t, f.db.Where("account_id = ?", accountID).First(&row).Error)
	return row
}

func (f *fixture) auditRecord(notificationUUID string) models.NotificationRecord {
	f.t.Helper()
	var row models.NotificationRecord
	require.NoError(f.t, f.db.Where("notification_uuid = ?", notificationUUID).First(&row).Error)
	return row
}

func (f *fixture) count(model interface{}, query string, args ...interface{}) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

type recordingRecorder struct {
	events []string
}

func (r *recordingRecorder) NotificationProcessed(notificationType, outcome string) {
	r.events = append(r.events, notificationType+":"+outcome)
}

func (r *recordingRecorder) count(outcome string) int {
	n := 0
	for _, e := range r.events {
		if strings.HasSuffix(e, ":"+outcome) {
			n++
		}
	}
	return n
}
