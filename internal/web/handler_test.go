package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/insightdelivered/statement-viewer/internal/models"
	"github.com/insightdelivered/statement-viewer/internal/pdftest"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	result  models.ParseResult
	started chan struct{}
	release chan struct{}

	banks     []models.Bank
	banksErr  error
	bankCalls int
	health    *models.HealthStatus
}

func (b *fakeBackend) ParseStatement(ctx context.Context, f models.UploadFile) models.ParseResult {
	b.mu.Lock()
	b.calls++
	res := b.result
	b.mu.Unlock()

	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	return res
}

func (b *fakeBackend) Health(ctx context.Context) (*models.HealthStatus, error) {
	if b.health == nil {
		return nil, errors.New("connection refused")
	}
	return b.health, nil
}

func (b *fakeBackend) Banks(ctx context.Context) ([]models.Bank, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bankCalls++
	return b.banks, b.banksErr
}

func (b *fakeBackend) BankCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bankCalls
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func successResult() models.ParseResult {
	return models.ParseResult{
		Success: true,
		Bank:    "Bank of America",
		Method:  models.MethodOCR,
		Data: models.StatementFields{
			models.FieldNewBalance:        "$1,234.56",
			models.FieldPaymentDueDate:    "01/15/2025",
			models.FieldMinimumPaymentDue: nil,
			models.FieldAvailableCredit:   "$8,765.44",
		},
		Warnings: []string{"credit limit not found"},
	}
}

func setupTestApp(backend *fakeBackend) (*fiber.App, *Handler) {
	h := NewHandler(backend, "http://parser.test", time.Hour, nil)
	h.now = func() time.Time { return time.Date(2025, 1, 15, 10, 20, 30, 0, time.UTC) }
	return NewApp(h), h
}

func uploadRequest(t *testing.T, path, filename, contentType string, data []byte, cookies []*http.Cookie) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func get(t *testing.T, app *fiber.App, path string, cookies []*http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

// startSession opens the page once and returns the session cookie.
func startSession(t *testing.T, app *fiber.App) []*http.Cookie {
	t.Helper()
	resp := get(t, app, "/", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			return []*http.Cookie{c}
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func page(t *testing.T, app *fiber.App, cookies []*http.Cookie) *goquery.Document {
	t.Helper()
	resp := get(t, app, "/", cookies)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return doc
}

func TestHealthz(t *testing.T) {
	app, _ := setupTestApp(&fakeBackend{})

	resp := get(t, app, "/healthz", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "ok", result["status"])
}

func TestIndexBeforeUpload(t *testing.T) {
	backend := &fakeBackend{banks: []models.Bank{{ID: "chase", Name: "Chase", Status: "active"}}}
	app, _ := setupTestApp(backend)

	doc := page(t, app, nil)
	assert.Contains(t, doc.Find("#results").Text(), "No statement analyzed yet.")
	assert.Equal(t, 0, doc.Find("#fields").Length())
	assert.Equal(t, "Chase", strings.TrimSpace(strings.Split(doc.Find(`li[data-bank="chase"]`).Text(), "(")[0]))
	assert.Equal(t, "light", doc.Find("html").AttrOr("data-theme", ""))
}

func TestUploadFormRendersResult(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, 1, backend.Calls())

	doc := page(t, app, cookies)
	assert.Equal(t, "$1,234.56", doc.Find(`dd[data-field="new_balance"]`).Text())
	assert.Equal(t, "January 15, 2025", doc.Find(`dd[data-field="payment_due_date"]`).Text())
	assert.Equal(t, "N/A", doc.Find(`dd[data-field="minimum_payment_due"]`).Text())
	assert.Equal(t, "N/A", doc.Find(`dd[data-field="credit_limit"]`).Text())
	assert.True(t, doc.Find(`dd[data-field="credit_limit"]`).HasClass("missing"))
	assert.Equal(t, "Bank of America", doc.Find("#bank").Text())
	assert.Equal(t, "OCR", doc.Find("#method").Text())
	assert.Contains(t, doc.Find("#warnings").Text(), "credit limit not found")
	assert.Equal(t, 1, doc.Find("#downloads").Length())
	assert.Contains(t, doc.Find("#upload-state").Text(), "jan.pdf: success")
}

func TestParseAPISuccess(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)

	resp, err := app.Test(uploadRequest(t, "/api/parse", "jan.pdf", "application/pdf", pdfBytes, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var res models.ParseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "$1,234.56", res.Data[models.FieldNewBalance])
}

func TestUploadRejectsNonPDF(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/api/parse", "notes.txt", "text/plain", []byte("hello"), cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, backend.Calls())

	doc := page(t, app, cookies)
	assert.Contains(t, doc.Find("#rejected").Text(), "is not a PDF")
	assert.Equal(t, 0, doc.Find("#fields").Length())
}

func TestRejectionKeepsLastResult(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	resp, err = app.Test(uploadRequest(t, "/api/parse", "notes.txt", "text/plain", []byte("hello"), cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, backend.Calls())

	resp = get(t, app, "/download/json", cookies)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "$1,234.56", got[models.FieldNewBalance])

	doc := page(t, app, cookies)
	assert.Contains(t, doc.Find("#rejected").Text(), "notes.txt")
	assert.Equal(t, "$1,234.56", doc.Find(`dd[data-field="new_balance"]`).Text())
	assert.Contains(t, doc.Find("#upload-state").Text(), "jan.pdf: success")
}

func TestUploadShowsPDFPreview(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdftest.Statement(), cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	state := page(t, app, cookies).Find("#upload-state").Text()
	assert.Contains(t, state, "jan.pdf: success")
	assert.Contains(t, state, "2 page(s)")
	assert.Contains(t, state, "text layer found")
}

func TestUploadRejectsOversized(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)

	big := make([]byte, 17<<20)
	copy(big, pdfBytes)
	resp, err := app.Test(uploadRequest(t, "/api/parse", "huge.pdf", "application/pdf", big, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, backend.Calls())

	var res models.ParseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "16 MiB")
}

func TestUploadMissingFile(t *testing.T) {
	app, _ := setupTestApp(&fakeBackend{})

	req := httptest.NewRequest(http.MethodPost, "/api/parse", nil)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=----test")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, fiber.StatusOK, resp.StatusCode)
}

func TestServerFailureShowsError(t *testing.T) {
	backend := &fakeBackend{result: models.ParseResult{
		Success: false,
		Error:   "X",
		Message: "Failed to parse the PDF file",
	}}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/upload", "bad.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	doc := page(t, app, cookies)
	assert.Equal(t, "X", doc.Find("#error").Text())
	assert.Equal(t, "Failed to parse the PDF file", doc.Find("#error-detail").Text())
	assert.Equal(t, 0, doc.Find("#fields").Length())
	assert.Equal(t, 0, doc.Find("#downloads").Length())

	resp = get(t, app, "/download/json", cookies)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSecondUploadWhilePendingIsDropped(t *testing.T) {
	backend := &fakeBackend{
		result:  successResult(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstStatus int
	go func() {
		defer wg.Done()
		resp, err := app.Test(uploadRequest(t, "/api/parse", "first.pdf", "application/pdf", pdfBytes, cookies), -1)
		if assert.NoError(t, err) {
			firstStatus = resp.StatusCode
		}
	}()

	<-backend.started
	resp, err := app.Test(uploadRequest(t, "/api/parse", "second.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var res models.ParseResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, MsgBusy, res.Error)

	close(backend.release)
	wg.Wait()

	assert.Equal(t, fiber.StatusOK, firstStatus)
	assert.Equal(t, 1, backend.Calls())
}

func TestSessionsAreIndependent(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	alice := startSession(t, app)
	bob := startSession(t, app)

	resp, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdfBytes, alice))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)

	assert.Equal(t, 1, page(t, app, alice).Find("#fields").Length())
	assert.Equal(t, 0, page(t, app, bob).Find("#fields").Length())
}

func TestDownloadJSON(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)

	resp := get(t, app, "/download/json", cookies)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	_, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)

	resp = get(t, app, "/download/json", cookies)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "statement_analysis_2025-01-15T10-20-30.000Z.json")
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]any(successResult().Data), got)
}

func TestDownloadCSVAndXLSX(t *testing.T) {
	backend := &fakeBackend{result: successResult()}
	app, _ := setupTestApp(backend)
	cookies := startSession(t, app)
	_, err := app.Test(uploadRequest(t, "/upload", "jan.pdf", "application/pdf", pdfBytes, cookies))
	require.NoError(t, err)

	resp := get(t, app, "/download/csv", cookies)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `New Balance,"$1,234.56"`)

	resp = get(t, app, "/download/xlsx", cookies)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	wb, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer wb.Close()
	value, err := wb.GetCellValue("Statement", "B5")
	require.NoError(t, err)
	assert.Equal(t, "$1,234.56", value)

	resp = get(t, app, "/download/pdf", cookies)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestThemeToggle(t *testing.T) {
	app, _ := setupTestApp(&fakeBackend{})

	req := httptest.NewRequest(http.MethodPost, "/theme", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	theme := findCookie(resp, themeCookie)
	require.NotNil(t, theme)
	assert.Equal(t, themeDark, theme.Value)

	doc := page(t, app, []*http.Cookie{theme})
	assert.Equal(t, "dark", doc.Find("html").AttrOr("data-theme", ""))
	assert.Equal(t, "light", doc.Find(`input[name="theme"]`).AttrOr("value", ""))

	req = httptest.NewRequest(http.MethodPost, "/theme", nil)
	req.AddCookie(theme)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, themeLight, findCookie(resp, themeCookie).Value)
}

func TestHealthAndBanksProxy(t *testing.T) {
	backend := &fakeBackend{
		health: &models.HealthStatus{Status: "healthy", Service: "Credit Card Parser API", Version: "1.0.0"},
		banks:  []models.Bank{{ID: "amex", Name: "American Express", Status: "active"}},
	}
	app, _ := setupTestApp(backend)

	resp := get(t, app, "/api/health", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var health models.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "Credit Card Parser API", health.Service)

	resp = get(t, app, "/api/banks", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var banks models.BanksResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&banks))
	assert.True(t, banks.Success)
	require.Len(t, banks.Banks, 1)
	assert.Equal(t, "amex", banks.Banks[0].ID)
}

func TestHealthAndBanksProxyUnreachable(t *testing.T) {
	backend := &fakeBackend{banksErr: errors.New("connection refused")}
	app, _ := setupTestApp(backend)

	assert.Equal(t, fiber.StatusBadGateway, get(t, app, "/api/health", nil).StatusCode)
	assert.Equal(t, fiber.StatusBadGateway, get(t, app, "/api/banks", nil).StatusCode)

	doc := page(t, app, nil)
	assert.Contains(t, doc.Find("#banks").Text(), "did not report")
}

func TestBanksListIsCached(t *testing.T) {
	backend := &fakeBackend{banks: []models.Bank{{ID: "citi", Name: "Citi", Status: "active"}}}
	app, h := setupTestApp(backend)

	page(t, app, nil)
	doc := page(t, app, nil)
	assert.Equal(t, 1, doc.Find(`li[data-bank="citi"]`).Length())
	assert.Equal(t, 1, backend.BankCalls())

	later := h.now().Add(banksTTL + time.Second)
	h.now = func() time.Time { return later }
	page(t, app, nil)
	assert.Equal(t, 2, backend.BankCalls())
}

func TestBanksFailureIsCached(t *testing.T) {
	backend := &fakeBackend{banksErr: errors.New("connection refused")}
	app, h := setupTestApp(backend)

	page(t, app, nil)
	page(t, app, nil)
	assert.Equal(t, 1, backend.BankCalls())

	backend.mu.Lock()
	backend.banks, backend.banksErr = []models.Bank{{ID: "citi", Name: "Citi", Status: "active"}}, nil
	backend.mu.Unlock()
	later := h.now().Add(banksRetry + time.Second)
	h.now = func() time.Time { return later }

	doc := page(t, app, nil)
	assert.Equal(t, 2, backend.BankCalls())
	assert.Equal(t, 1, doc.Find(`li[data-bank="citi"]`).Length())
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
