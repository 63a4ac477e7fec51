// Package analyzers implements the collaborators that turn uploads and
// questions into facts: bank statement activity, sensor metrics, crop
// photo quality, support chat replies and weather forecasts.
package analyzers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	SmallTransactionLimit = 500.0
	ActiveSmallCount      = 15
	ActiveRatio           = 0.5
	ActiveTrustDelta      = 20
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file type")
	ErrEmptyUpload       = errors.New("no file provided")
)

// BankReport is the activity verdict for one statement.
type BankReport struct {
	Active            bool    `json:"active"`
	SmallTransactions int     `json:"smallTransactions"`
	TotalTransactions int     `json:"totalTransactions"`
	ActivityRatio     float64 `json:"activityRatio"`
	TrustDelta        int     `json:"trustDelta"`
}

type BankAnalyzer struct {
	limit float64
}

func NewBankAnalyzer() *BankAnalyzer {
	return &BankAnalyzer{limit: SmallTransactionLimit}
}

// Analyze counts small transactions in a CSV, JSON, TXT, PDF or Excel
// statement. Unreadable content counts as no transactions.
func (a *BankAnalyzer) Analyze(ctx context.Context, filename string, data []byte) (*BankReport, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	var amounts []float64
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".csv":
		amounts = csvAmounts(data)
	case ext == ".json" || ext == ".txt":
		amounts = jsonAmounts(data)
	case ext == ".pdf":
		amounts = textAmounts(pdfText(data))
	case spreadsheetExts[ext]:
		amounts = sheetAmounts(data)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.report(amounts), nil
}

func (a *BankAnalyzer) report(amounts []float64) *BankReport {
	r := &BankReport{TotalTransactions: len(amounts)}
	for _, amt := range amounts {
		if math.Abs(amt) <= a.limit {
			r.SmallTransactions++
		}
	}
	var ratio float64
	if r.TotalTransactions > 0 {
		ratio = float64(r.SmallTransactions) / float64(r.TotalTransactions)
	}
	r.ActivityRatio = math.Round(ratio*100) / 100
	r.Active = r.SmallTransactions >= ActiveSmallCount || ratio >= ActiveRatio
	if r.Active {
		r.TrustDelta = ActiveTrustDelta
	}
	return r
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func csvAmounts(data []byte) []float64 {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		return nil
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "amount") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}

	var amounts []float64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if col >= len(rec) {
			continue
		}
		if f, ok := parseAmount(rec[col]); ok {
			amounts = append(amounts, f)
		}
	}
	return amounts
}

var amountKeys = map[string]bool{"amount": true, "amt": true, "debit": true, "credit": true}

func jsonAmounts(data []byte) []float64 {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	var amounts []float64
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch x := v.(type) {
		case map[string]interface{}:
			for k, child := range x {
				if amountKeys[strings.ToLower(k)] {
					switch n := child.(type) {
					case json.Number:
						if f, ok := parseAmount(n.String()); ok {
							amounts = append(amounts, f)
						}
						continue
					case string:
						if f, ok := parseAmount(n); ok {
							amounts = append(amounts, f)
						}
						continue
					}
				}
				walk(child)
			}
		case []interface{}:
			for _, child := range x {
				walk(child)
			}
		}
	}
	walk(doc)
	return amounts
}

var currencyPattern = regexp.MustCompile(`(?:₹\s*|Rs\.?\s*|INR\s*)?(-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+(?:\.\d+)?)`)

// textAmounts scans document text for currency-like numbers.
func textAmounts(text string) []float64 {
	var amounts []float64
	for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
		if f, ok := parseAmount(m[1]); ok {
			amounts = append(amounts, f)
		}
	}
	return amounts
}

// sheetAmounts reads the first amount-like column of the active sheet.
func sheetAmounts(data []byte) []float64 {
	rows, err := sheetRows(data)
	if err != nil || len(rows) == 0 {
		return nil
	}
	col := -1
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		if strings.Contains(h, "amount") || strings.Contains(h, "amt") || h == "debit" || h == "credit" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}

	var amounts []float64
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if f, ok := parseAmount(row[col]); ok {
			amounts = append(amounts, f)
		}
	}
	return amounts
}
