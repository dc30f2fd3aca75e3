package controllers

import (
	"io"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/payment"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

type fakeWalletRepo struct {
	mu       sync.Mutex
	balances map[uint]decimal.Decimal
}

func (f *fakeWalletRepo) GetByUser(userID uint) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Wallet{UserID: userID, Balance: bal}, nil
}

func (f *fakeWalletRepo) CreateIfMissing(userID uint) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		bal = decimal.Zero
		f.balances[userID] = bal
	}
	return &models.Wallet{UserID: userID, Balance: bal}, nil
}

func (f *fakeWalletRepo) CompareAndSwapBalance(userID uint, oldBalance, newBalance decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.balances[userID].Equal(oldBalance) {
		return false, nil
	}
	f.balances[userID] = newBalance
	return true, nil
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	nextID  uint
	entries map[uint]*models.WalletHistory
}

func (f *fakeLedgerRepo) Insert(entry *models.WalletHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.nextID
	f.nextID++
	clone := *entry
	f.entries[entry.ID] = &clone
	return nil
}

func (f *fakeLedgerRepo) GetByID(id uint) (*models.WalletHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *entry
	return &clone, nil
}

func (f *fakeLedgerRepo) UpdateStatus(id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[id]; ok {
		entry.Status = status
	}
	return nil
}

func (f *fakeLedgerRepo) ClaimForSettlement(id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return false, nil
	}
	if entry.Status != models.HistoryStatusNew && entry.Status != models.HistoryStatusPending {
		return false, nil
	}
	entry.Status = models.HistoryStatusProcessing
	return true, nil
}

func (f *fakeLedgerRepo) MarkFailedIfPending(id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return false, nil
	}
	if entry.Status != models.HistoryStatusNew && entry.Status != models.HistoryStatusPending {
		return false, nil
	}
	entry.Status = models.HistoryStatusFailed
	return true, nil
}

func (f *fakeLedgerRepo) MarkCompleted(id uint, balanceAfter decimal.Decimal, externalTransactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[id]; ok {
		entry.Status = models.HistoryStatusCompleted
		entry.BalanceAfter = balanceAfter
		entry.ExternalTransactionID = externalTransactionID
	}
	return nil
}

func (f *fakeLedgerRepo) ListPendingSince(_ time.Time) ([]models.WalletHistory, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) ListByUser(_ uint, _ int) ([]models.WalletHistory, error) {
	return nil, nil
}

type fakeChannelRepo struct {
	channels map[uint]*models.PaymentChannel
}

func (f *fakeChannelRepo) GetByID(id uint) (*models.PaymentChannel, error) {
	if c, ok := f.channels[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeChannelRepo) ListAll() ([]models.PaymentChannel, error) {
	return nil, nil
}

func (f *fakeChannelRepo) ListEnabled() ([]models.PaymentChannel, error) {
	out := make([]models.PaymentChannel, 0, len(f.channels))
	for _, c := range f.channels {
		if c.Enabled {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) SetEnabled(id uint, enabled bool) error {
	c, ok := f.channels[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Enabled = enabled
	return nil
}

type webhookFixture struct {
	app     *fiber.App
	wallets *fakeWalletRepo
	history *fakeLedgerRepo
	entryID uint
}

const alipaySecret = "alipay-secret"
const wechatSecret = "wechat-secret"

// newWebhookFixture wires the handlers against in-memory state with one
// pending 50.00 deposit for user 7.
func newWebhookFixture(t *testing.T, kind string) *webhookFixture {
	t.Helper()

	wallets := &fakeWalletRepo{balances: map[uint]decimal.Decimal{7: decimal.Zero}}
	history := &fakeLedgerRepo{nextID: 1, entries: map[uint]*models.WalletHistory{}}
	channels := &fakeChannelRepo{channels: map[uint]*models.PaymentChannel{
		1: {ID: 1, Kind: models.ChannelKindAlipay, Name: "alipay-main", SecretKey: alipaySecret, Enabled: true},
		2: {ID: 2, Kind: models.ChannelKindWeChat, Name: "wechat-main", SecretKey: wechatSecret, Enabled: true},
	}}

	channelID := uint(1)
	if kind == models.ChannelKindWeChat {
		channelID = 2
	}
	entry := &models.WalletHistory{
		UserID:        7,
		Amount:        decimal.RequireFromString("50.00"),
		Type:          models.HistoryTypeDeposit,
		Status:        models.HistoryStatusPending,
		PaymentMethod: kind,
		ChannelID:     channelID,
	}
	require.NoError(t, history.Insert(entry))

	Setup(Dependencies{
		Repos: &repository.Repositories{
			Wallet:  wallets,
			Ledger:  history,
			Channel: channels,
		},
		Ledger: wallet.NewLedger(wallets, history, nil),
	})

	app := fiber.New()
	app.Post("/webhook/payment/alipay", HandleAlipayNotify)
	app.Post("/webhook/payment/wechat", HandleWeChatNotify)

	return &webhookFixture{app: app, wallets: wallets, history: history, entryID: entry.ID}
}

func alipayNotifyForm(entryID uint, amount, secret string) url.Values {
	params := map[string]string{
		"out_trade_no": strconv.FormatUint(uint64(entryID), 10),
		"trade_no":     "2026090122001",
		"trade_status": payment.AlipayStatusTradeSuccess,
		"total_amount": amount,
	}
	params["sign"] = payment.MD5Sign(params, secret)
	params["sign_type"] = "MD5"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return form
}

func postForm(t *testing.T, app *fiber.App, path string, form url.Values) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAlipayNotifyCreditsDeposit(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindAlipay)

	status, body := postForm(t, fx.app, "/webhook/payment/alipay", alipayNotifyForm(fx.entryID, "50.00", alipaySecret))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "success", body)
	assert.True(t, fx.wallets.balances[7].Equal(decimal.RequireFromString("50.00")))

	entry, err := fx.history.GetByID(fx.entryID)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryStatusCompleted, entry.Status)
	assert.Equal(t, "2026090122001", entry.ExternalTransactionID)
}

func TestAlipayNotifyDuplicateIsIdempotent(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindAlipay)
	form := alipayNotifyForm(fx.entryID, "50.00", alipaySecret)

	status, _ := postForm(t, fx.app, "/webhook/payment/alipay", form)
	require.Equal(t, fiber.StatusOK, status)

	// The gateway retries; same notify again.
	status, body := postForm(t, fx.app, "/webhook/payment/alipay", form)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "success", body)

	// Credited exactly once.
	assert.True(t, fx.wallets.balances[7].Equal(decimal.RequireFromString("50.00")))
}

func TestAlipayNotifyRejectsBadSignature(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindAlipay)

	form := alipayNotifyForm(fx.entryID, "50.00", "wrong-secret")
	status, body := postForm(t, fx.app, "/webhook/payment/alipay", form)

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "fail", body)
	// No state change.
	assert.True(t, fx.wallets.balances[7].IsZero())
	entry, _ := fx.history.GetByID(fx.entryID)
	assert.Equal(t, models.HistoryStatusPending, entry.Status)
}

func TestAlipayNotifyRejectsAmountMismatch(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindAlipay)

	// Correctly signed but for the wrong amount.
	form := alipayNotifyForm(fx.entryID, "5.00", alipaySecret)
	status, _ := postForm(t, fx.app, "/webhook/payment/alipay", form)

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.True(t, fx.wallets.balances[7].IsZero())
}

func TestAlipayNotifyUnknownOrder(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindAlipay)

	form := alipayNotifyForm(999, "50.00", alipaySecret)
	status, _ := postForm(t, fx.app, "/webhook/payment/alipay", form)

	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestWeChatNotifyCreditsDeposit(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindWeChat)

	outTradeNo := strconv.FormatUint(uint64(fx.entryID), 10)
	params := map[string]string{
		"out_trade_no":   outTradeNo,
		"trade_state":    payment.WeChatStatusSuccess,
		"transaction_id": "4200001",
		"total_fee":      "5000",
		"nonce_str":      "nonce-1",
	}
	body := `{"out_trade_no":"` + outTradeNo + `","trade_state":"SUCCESS","transaction_id":"4200001","total_fee":5000,"nonce_str":"nonce-1","sign":"` + payment.HMACSHA256Sign(params, wechatSecret) + `"}`

	req := httptest.NewRequest(fiber.MethodPost, "/webhook/payment/wechat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, fx.wallets.balances[7].Equal(decimal.RequireFromString("50.00")))
}

func TestWeChatNotifyRejectsBadSignature(t *testing.T) {
	fx := newWebhookFixture(t, models.ChannelKindWeChat)

	outTradeNo := strconv.FormatUint(uint64(fx.entryID), 10)
	body := `{"out_trade_no":"` + outTradeNo + `","trade_state":"SUCCESS","transaction_id":"4200001","total_fee":5000,"nonce_str":"nonce-1","sign":"BOGUS"}`

	req := httptest.NewRequest(fiber.MethodPost, "/webhook/payment/wechat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.True(t, fx.wallets.balances[7].IsZero())
}
