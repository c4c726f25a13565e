package models

// ParseMethod reports how the parsing service read the statement.
type ParseMethod string

const (
	MethodTextBased ParseMethod = "text-based"
	MethodOCR       ParseMethod = "ocr"
)

// Statement field keys returned by the parsing service in ParseResult.Data.
const (
	FieldPaymentDueDate    = "payment_due_date"
	FieldMinimumPaymentDue = "minimum_payment_due"
	FieldNewBalance        = "new_balance"
	FieldAvailableCredit   = "available_credit"
	FieldCreditLimit       = "credit_limit"
)

// StatementFields is the flat mapping of extracted values. Values are
// pre-formatted strings or null; numbers are tolerated for currency keys.
type StatementFields map[string]any

// ParseResult is the success/error envelope for every upload attempt.
type ParseResult struct {
	Success  bool            `json:"success"`
	Bank     string          `json:"bank,omitempty"`
	Method   ParseMethod     `json:"method,omitempty"`
	Data     StatementFields `json:"data,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ErrorText returns the user-facing failure text of a failed result.
func (r *ParseResult) ErrorText() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// UploadFile is a statement file picked by the user.
type UploadFile struct {
	Name        string
	ContentType string // as declared by the client; sniffed when empty
	Size        int64
	Data        []byte
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	Version      string `json:"version"`
	ParserModule string `json:"parser_module,omitempty"`
}

// Bank is one entry of GET /banks.
type Bank struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// BanksResponse is the body of GET /banks.
type BanksResponse struct {
	Success bool   `json:"success"`
	Banks   []Bank `json:"banks"`
}
