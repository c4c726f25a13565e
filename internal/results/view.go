package results

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-viewer/internal/models"
)

// NotAvailable is shown for every field the service did not return.
const NotAvailable = "N/A"

// DateLayout is how recognised dates are displayed.
const DateLayout = "January 2, 2006"

// Kind selects how a field value is formatted.
type Kind int

const (
	KindText Kind = iota
	KindCurrency
	KindDate
)

// FieldSpec describes one known statement field.
type FieldSpec struct {
	Key   string
	Label string
	Kind  Kind
}

// Catalogue lists the known statement fields in display order.
var Catalogue = []FieldSpec{
	{models.FieldNewBalance, "New Balance", KindCurrency},
	{models.FieldPaymentDueDate, "Payment Due Date", KindDate},
	{models.FieldMinimumPaymentDue, "Minimum Payment Due", KindCurrency},
	{models.FieldCreditLimit, "Credit Limit", KindCurrency},
	{models.FieldAvailableCredit, "Available Credit", KindCurrency},
}

// Field is one labelled value of the results card.
type Field struct {
	Key     string
	Label   string
	Value   string
	Missing bool
}

// View is everything the results card shows for one parse result.
type View struct {
	Show     bool
	Success  bool
	Bank     string
	Method   string
	Warnings []string
	Fields   []Field
	Error    string
	Detail   string
}

// Render turns the last parse result into the results card. A nil result
// renders nothing; a failed result renders only its error.
func Render(res *models.ParseResult) View {
	if res == nil {
		return View{}
	}
	if !res.Success {
		v := View{Show: true, Error: res.ErrorText()}
		if v.Error == "" {
			v.Error = "The statement could not be processed."
		}
		if res.Message != "" && res.Message != v.Error {
			v.Detail = res.Message
		}
		return v
	}

	v := View{
		Show:     true,
		Success:  true,
		Bank:     strings.TrimSpace(res.Bank),
		Method:   MethodLabel(res.Method),
		Warnings: res.Warnings,
	}
	if v.Bank == "" {
		v.Bank = "Unknown"
	}

	known := make(map[string]bool, len(Catalogue))
	for _, spec := range Catalogue {
		known[spec.Key] = true
		v.Fields = append(v.Fields, renderField(spec, res.Data[spec.Key]))
	}

	// Unknown keys degrade to their raw form, in a stable order.
	var extra []string
	for k := range res.Data {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		v.Fields = append(v.Fields, renderField(FieldSpec{Key: k, Label: labelFor(k), Kind: KindText}, res.Data[k]))
	}
	return v
}

// Lookup returns the rendered field with the given key.
func (v View) Lookup(key string) (Field, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// MethodLabel names a parse method for display.
func MethodLabel(m models.ParseMethod) string {
	switch m {
	case models.MethodTextBased:
		return "Text-based"
	case models.MethodOCR:
		return "OCR"
	case "":
		return NotAvailable
	default:
		return string(m)
	}
}

func renderField(spec FieldSpec, raw any) Field {
	f := Field{Key: spec.Key, Label: spec.Label}
	value, ok := formatValue(spec.Kind, raw)
	if !ok {
		f.Value = NotAvailable
		f.Missing = true
		return f
	}
	f.Value = value
	return f
}

func formatValue(kind Kind, raw any) (string, bool) {
	switch val := raw.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", false
		}
		if kind == KindDate {
			return FormatDate(s), true
		}
		return s, true
	case float64:
		if kind == KindCurrency {
			return FormatCurrency(decimal.NewFromFloat(val)), true
		}
		return decimal.NewFromFloat(val).String(), true
	case bool:
		return fmt.Sprint(val), true
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val), true
		}
		return string(raw), true
	}
}

// FormatCurrency renders an amount as US dollars with thousands separators.
func FormatCurrency(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	d = d.Round(2)
	fixed := d.StringFixed(2)
	cents := fixed[strings.IndexByte(fixed, '.')+1:]
	return sign + "$" + humanize.BigComma(d.Truncate(0).BigInt()) + "." + cents
}

// FormatDate renders a recognised date string in DateLayout. Anything
// dateparse cannot read is returned unchanged.
func FormatDate(s string) string {
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return s
	}
	return t.Format(DateLayout)
}

func labelFor(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return key
	}
	return strings.Join(words, " ")
}
