package mongo

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	billing "rental-billing/internal/billing/domain"
)

const (
	// isoLayout is how installment dates are written. Stored strings compare lexically.
	isoLayout        = "2006-01-02T15:04:05.000Z07:00"
	nationalIDLength = 11
)

// ==================== Contract models ====================

type contractModel struct {
	ID                 bson.ObjectID        `bson:"_id"`
	SchoolOrgNr        bson.RawValue        `bson:"skoleOrgNr,omitempty"`
	UnsignedForm       formInfoModel        `bson:"unSignedskjemaInfo"`
	SignedBy           personModel          `bson:"signedBy"`
	Student            *studentModel        `bson:"elevInfo,omitempty"`
	Guardian           *personModel         `bson:"ansvarligInfo,omitempty"`
	FakturaInfo        map[string]rateModel `bson:"fakturaInfo"`
	ImportedToLedgerAt bson.RawValue        `bson:"importedToXledgerAt,omitempty"`
	NotFoundInRegistry *notFoundModel       `bson:"notFoundInFINT,omitempty"`
}

type formInfoModel struct {
	ContractType string `bson:"kontraktType"`
}

// National ids and org numbers are stored as strings or numbers depending on
// which form created the document.
type personModel struct {
	Name       string        `bson:"navn"`
	NationalID bson.RawValue `bson:"fnr,omitempty"`
}

type studentModel struct {
	Name       string        `bson:"navn"`
	NationalID bson.RawValue `bson:"fnr,omitempty"`
	Class      string        `bson:"klasse"`
	School     string        `bson:"skole"`
}

type notFoundModel struct {
	Date bson.RawValue `bson:"date,omitempty"`
}

type rateModel struct {
	BillingYear  bson.RawValue `bson:"faktureringsår,omitempty"`
	Status       string        `bson:"status,omitempty"`
	InvoicedAt   bson.RawValue `bson:"faktureringsDato,omitempty"`
	SerialNumber bson.RawValue `bson:"løpenummer,omitempty"`
	Sum          bson.RawValue `bson:"sum,omitempty"`
}

func fromContractModel(m *contractModel) billing.Contract {
	c := billing.Contract{
		ID:           m.ID.Hex(),
		ContractType: m.UnsignedForm.ContractType,
		SchoolOrgNr:  stringFrom(m.SchoolOrgNr),
		SignedBy:     billing.Person{Name: m.SignedBy.Name, NationalID: nationalIDFrom(m.SignedBy.NationalID)},
	}
	if m.Student != nil {
		c.Student = billing.Student{
			Name:       m.Student.Name,
			NationalID: nationalIDFrom(m.Student.NationalID),
			Class:      m.Student.Class,
			School:     m.Student.School,
		}
	}
	if m.Guardian != nil {
		c.Guardian = &billing.Person{Name: m.Guardian.Name, NationalID: nationalIDFrom(m.Guardian.NationalID)}
	}
	if t, ok := timeFrom(m.ImportedToLedgerAt); ok {
		c.CustomerImportedAt = &t
	}
	c.NotFoundInRegistry = m.NotFoundInRegistry != nil && !m.NotFoundInRegistry.Date.IsZero()
	for i, key := range billing.RateKeys {
		rate, ok := m.FakturaInfo[string(key)]
		if !ok {
			continue
		}
		c.FakturaInfo.Rates[i] = fromRateModel(rate)
	}
	return c
}

func decodeContract(raw bson.Raw) (billing.Contract, error) {
	var m contractModel
	if err := bson.Unmarshal(raw, &m); err != nil {
		return billing.Contract{}, err
	}
	return fromContractModel(&m), nil
}

func fromRateModel(r rateModel) billing.Installment {
	status, ok := billing.ParseStatus(r.Status)
	if !ok {
		status = billing.StatusUnset
	}
	inst := billing.Installment{
		BillingYear:  billingYearFrom(r.BillingYear),
		Status:       status,
		SerialNumber: stringFrom(r.SerialNumber),
	}
	if t, ok := timeFrom(r.InvoicedAt); ok {
		inst.InvoicedAt = &t
	}
	if amount, ok := decimalFrom(r.Sum); ok {
		inst.Amount = amount
	}
	return inst
}

// billingYearFrom accepts "2025" or 2025. Labels such as the loan marker read as 0.
func billingYearFrom(v bson.RawValue) int {
	switch v.Type {
	case bson.TypeInt32:
		return int(v.Int32())
	case bson.TypeInt64:
		return int(v.Int64())
	case bson.TypeDouble:
		return int(v.Double())
	case bson.TypeString:
		year, err := strconv.Atoi(strings.TrimSpace(v.StringValue()))
		if err != nil {
			return 0
		}
		return year
	}
	return 0
}

func stringFrom(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeString:
		return strings.TrimSpace(v.StringValue())
	case bson.TypeInt32:
		return strconv.Itoa(int(v.Int32()))
	case bson.TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case bson.TypeDouble:
		if f := v.Double(); f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return ""
}

// nationalIDFrom restores the leading zeros a numeric fnr loses.
func nationalIDFrom(v bson.RawValue) string {
	id := stringFrom(v)
	if v.Type != bson.TypeString && id != "" && len(id) < nationalIDLength {
		id = strings.Repeat("0", nationalIDLength-len(id)) + id
	}
	return id
}

func timeFrom(v bson.RawValue) (time.Time, bool) {
	switch v.Type {
	case bson.TypeDateTime:
		return time.UnixMilli(v.DateTime()).UTC(), true
	case bson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v.StringValue()))
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

func decimalFrom(v bson.RawValue) (decimal.Decimal, bool) {
	switch v.Type {
	case bson.TypeInt32:
		return decimal.NewFromInt32(v.Int32()), true
	case bson.TypeInt64:
		return decimal.NewFromInt(v.Int64()), true
	case bson.TypeDouble:
		return decimal.NewFromFloat(v.Double()), true
	case bson.TypeDecimal128:
		d, err := decimal.NewFromString(v.Decimal128().String())
		return d, err == nil
	case bson.TypeString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.StringValue()))
		return d, err == nil
	}
	return decimal.Zero, false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ==================== Serial number models ====================

type serialNumberModel struct {
	IterationNumber int64     `bson:"iterationNumber"`
	CurrentYear     int       `bson:"currentYear"`
	RateNumber      string    `bson:"rateNumber"`
	RandomString    string    `bson:"randomString"`
	System          string    `bson:"system"`
	SerialNumber    string    `bson:"serialNumber"`
	CreatedAt       time.Time `bson:"createdTimeStamp"`
}

func toSerialNumberModel(r billing.SerialNumberRecord) *serialNumberModel {
	return &serialNumberModel{
		IterationNumber: r.IterationNumber,
		CurrentYear:     r.Year,
		RateNumber:      strconv.Itoa(r.RateNumber),
		RandomString:    r.RandomSuffix,
		System:          r.System,
		SerialNumber:    r.FullValue,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

type counterModel struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// ==================== Settings models ====================

type settingsModel struct {
	Prices                pricesModel         `bson:"prices"`
	PriceExceptions       priceExceptions     `bson:"exceptionsFromRegularPrices"`
	InvoiceFlowExceptions flowExceptionsModel `bson:"exceptionsFromInvoiceFlow"`
}

type pricesModel struct {
	RegularPrice bson.RawValue `bson:"regularPrice,omitempty"`
	ReducedPrice bson.RawValue `bson:"reducedPrice,omitempty"`
}

type priceExceptions struct {
	Students []studentExceptionModel `bson:"students"`
	Classes  []classExceptionModel   `bson:"classes"`
}

type flowExceptionsModel struct {
	Students []studentExceptionModel `bson:"students"`
}

type studentExceptionModel struct {
	NationalID string `bson:"fnr"`
	Name       string `bson:"navn,omitempty"`
}

type classExceptionModel struct {
	ClassName string `bson:"className"`
}

func fromSettingsModel(m *settingsModel) billing.PriceSettings {
	settings := billing.PriceSettings{}
	if price, ok := decimalFrom(m.Prices.RegularPrice); ok {
		settings.RegularPrice = price
	}
	if price, ok := decimalFrom(m.Prices.ReducedPrice); ok {
		settings.ReducedPrice = price
	}
	for _, s := range m.PriceExceptions.Students {
		settings.StudentExceptions = append(settings.StudentExceptions, billing.StudentException{NationalID: s.NationalID, Name: s.Name})
	}
	for _, c := range m.PriceExceptions.Classes {
		settings.ClassExceptions = append(settings.ClassExceptions, billing.ClassException{ClassName: c.ClassName})
	}
	for _, s := range m.InvoiceFlowExceptions.Students {
		settings.InvoiceFlowExceptions = append(settings.InvoiceFlowExceptions, billing.StudentException{NationalID: s.NationalID, Name: s.Name})
	}
	return settings
}

// toSettingsDocument renders settings for insertion. Prices are stored as numbers.
func toSettingsDocument(s billing.PriceSettings) bson.M {
	students := bson.A{}
	for _, e := range s.StudentExceptions {
		students = append(students, bson.M{"fnr": e.NationalID, "navn": e.Name})
	}
	classes := bson.A{}
	for _, e := range s.ClassExceptions {
		classes = append(classes, bson.M{"className": e.ClassName})
	}
	flow := bson.A{}
	for _, e := range s.InvoiceFlowExceptions {
		flow = append(flow, bson.M{"fnr": e.NationalID, "navn": e.Name})
	}
	return bson.M{
		"prices": bson.M{
			"regularPrice": s.RegularPrice.InexactFloat64(),
			"reducedPrice": s.ReducedPrice.InexactFloat64(),
		},
		"exceptionsFromRegularPrices": bson.M{"students": students, "classes": classes},
		"exceptionsFromInvoiceFlow":   bson.M{"students": flow},
	}
}
