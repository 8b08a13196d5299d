package edgar

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/models"
)

var (
	ownershipStart = []byte("<ownershipDocument>")
	ownershipEnd   = []byte("</ownershipDocument>")
)

// ownershipDocument mirrors the parts of the Form 4 XML schema we read.
type ownershipDocument struct {
	XMLName         xml.Name                   `xml:"ownershipDocument"`
	IssuerName      string                     `xml:"issuer>issuerName"`
	ReportingOwners []reportingOwner           `xml:"reportingOwner"`
	NonDerivative   []nonDerivativeTransaction `xml:"nonDerivativeTable>nonDerivativeTransaction"`
	Derivative      []derivativeTransaction    `xml:"derivativeTable>derivativeTransaction"`
}

type reportingOwner struct {
	Name string `xml:"reportingOwnerId>rptOwnerName"`
}

// valueNode is the <x><value>...</value></x> wrapper used throughout the
// schema. A nil *valueNode or nil Value means the field is absent.
type valueNode struct {
	Value *string `xml:"value"`
}

func (v *valueNode) text() (string, bool) {
	if v == nil || v.Value == nil {
		return "", false
	}
	s := strings.TrimSpace(*v.Value)
	return s, s != ""
}

func (v *valueNode) decimal() (decimal.Decimal, bool) {
	s, ok := v.text()
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

type transactionAmounts struct {
	Shares        *valueNode `xml:"transactionShares"`
	PricePerShare *valueNode `xml:"transactionPricePerShare"`
}

type transactionEntry struct {
	SecurityTitle   *valueNode         `xml:"securityTitle"`
	TransactionDate *valueNode         `xml:"transactionDate"`
	Code            *string            `xml:"transactionCoding>transactionCode"`
	Amounts         transactionAmounts `xml:"transactionAmounts"`
}

type nonDerivativeTransaction struct {
	transactionEntry
}

type derivativeTransaction struct {
	transactionEntry
	ConversionOrExercisePrice *valueNode `xml:"conversionOrExercisePrice"`
	ExercisePrice             *valueNode `xml:"exercisePrice"`
	UnderlyingShares          *valueNode `xml:"underlyingSecurity>underlyingSecurityShares"`
}

// ExtractOwnershipXML returns the <ownershipDocument> element embedded in a
// filing, markers included. ok is false when either marker is missing.
func ExtractOwnershipXML(filing []byte) (doc []byte, ok bool) {
	start := bytes.Index(filing, ownershipStart)
	if start < 0 {
		return nil, false
	}
	end := bytes.Index(filing[start:], ownershipEnd)
	if end < 0 {
		return nil, false
	}
	return filing[start : start+end+len(ownershipEnd)], true
}

// NormalizeDate keeps the first three hyphen-delimited components of a
// source date, so "2025-04-24-05:00" becomes "2025-04-24". Purely textual.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "-", 4)
	if len(parts) < 3 {
		return s
	}
	return strings.Join(parts[:3], "-")
}

// ParseOwnershipDocument decodes an ownership document and returns one row
// per complete transaction entry. Entries missing a required field are
// dropped. A document without issuer or reporting owner yields no rows.
func ParseOwnershipDocument(doc []byte) ([]models.RawTransaction, error) {
	var od ownershipDocument
	if err := xml.Unmarshal(doc, &od); err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrMalformedFiling, err)
	}

	issuer := strings.TrimSpace(od.IssuerName)
	var insider string
	if len(od.ReportingOwners) > 0 {
		insider = strings.TrimSpace(od.ReportingOwners[0].Name)
	}
	if issuer == "" || insider == "" {
		return nil, nil
	}

	var rows []models.RawTransaction
	for _, tx := range od.NonDerivative {
		shares, ok := tx.Amounts.Shares.decimal()
		if !ok {
			continue
		}
		price, ok := tx.Amounts.PricePerShare.decimal()
		if !ok {
			continue
		}
		if row, ok := tx.toRow(issuer, insider, models.KindNonDerivative, shares, price); ok {
			rows = append(rows, row)
		}
	}

	for _, tx := range od.Derivative {
		shares, ok := tx.Amounts.Shares.decimal()
		if !ok {
			shares, ok = tx.UnderlyingShares.decimal()
		}
		if !ok {
			continue
		}
		price, ok := tx.Amounts.PricePerShare.decimal()
		if !ok {
			price, ok = tx.ConversionOrExercisePrice.decimal()
		}
		if !ok {
			price, ok = tx.ExercisePrice.decimal()
		}
		if !ok {
			continue
		}
		if row, ok := tx.toRow(issuer, insider, models.KindDerivative, shares, price); ok {
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func (e transactionEntry) toRow(issuer, insider string, kind models.TransactionKind, shares, price decimal.Decimal) (models.RawTransaction, bool) {
	date, ok := e.TransactionDate.text()
	if !ok {
		return models.RawTransaction{}, false
	}
	if e.Code == nil {
		return models.RawTransaction{}, false
	}
	code := strings.TrimSpace(*e.Code)
	if code == "" {
		return models.RawTransaction{}, false
	}

	row := models.RawTransaction{
		IssuerName:      issuer,
		InsiderName:     insider,
		TransactionDate: NormalizeDate(date),
		TransactionCode: code,
		Kind:            kind,
		Shares:          shares,
		PricePerShare:   price,
	}
	if title, ok := e.SecurityTitle.text(); ok {
		row.SecurityTitle = &title
	}
	return row, true
}
