package mongo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/platform/logger"
)

func rawValue(t *testing.T, v any) bson.RawValue {
	t.Helper()
	data, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bson.Raw(data).Lookup("v")
}

func TestBillingYearFrom(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{"2025", 2025},
		{int32(2026), 2026},
		{int64(2027), 2027},
		{"Utlån faktureres ikke", 0},
		{true, 0},
	}
	for _, tc := range cases {
		if got := billingYearFrom(rawValue(t, tc.in)); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.in, got, tc.want)
		}
	}
	if got := billingYearFrom(bson.RawValue{}); got != 0 {
		t.Fatalf("missing year must read as 0, got %d", got)
	}
}

func TestTimeFrom(t *testing.T) {
	want := time.Date(2025, time.October, 10, 12, 0, 0, 0, time.UTC)
	got, ok := timeFrom(rawValue(t, "2025-10-10T12:00:00.000Z"))
	if !ok || !got.Equal(want) {
		t.Fatalf("iso string: got %v %v", got, ok)
	}
	got, ok = timeFrom(rawValue(t, want))
	if !ok || !got.Equal(want) {
		t.Fatalf("date: got %v %v", got, ok)
	}
	if _, ok := timeFrom(rawValue(t, "Ukjent")); ok {
		t.Fatalf("label must not parse as time")
	}
}

func TestFormatTimeSortsWithStoredStrings(t *testing.T) {
	if formatTime(time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)) != "2025-10-01T00:00:00.000Z" {
		t.Fatalf("unexpected format %s", formatTime(time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)))
	}
}

func TestDecodeContractDocument(t *testing.T) {
	oid := bson.NewObjectID()
	doc := bson.M{
		"_id":                 oid,
		"skoleOrgNr":          "974568098",
		"unSignedskjemaInfo":  bson.M{"kontraktType": "Leieavtale"},
		"signedBy":            bson.M{"navn": "Ukjent", "fnr": "Ukjent"},
		"elevInfo":            bson.M{"navn": "Ola", "fnr": "11111111111", "klasse": "2STA", "skole": "Bamble vgs"},
		"ansvarligInfo":       bson.M{"navn": "Kari", "fnr": "22222222222"},
		"importedToXledgerAt": time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC),
		"fakturaInfo": bson.M{
			"rate1": bson.M{"faktureringsår": "2024", "status": "Betalt", "løpenummer": "20240001", "sum": int32(1000)},
			"rate2": bson.M{"faktureringsår": 2025, "status": "Fakturert", "løpenummer": "JOT-000000001-2-2025-abcdef", "faktureringsDato": "2025-10-10T12:00:00.000Z", "sum": "1000"},
			"rate3": bson.M{"faktureringsår": "2026"},
		},
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c, err := decodeContract(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if c.ID != oid.Hex() || !c.IsRental() || c.NotFoundInRegistry {
		t.Fatalf("unexpected contract %+v", c)
	}
	if c.BilledPartyID() != "22222222222" || c.Student.Class != "2STA" {
		t.Fatalf("unexpected parties %+v", c)
	}
	if c.CustomerImportedAt == nil || c.CustomerImportedAt.Month() != time.August {
		t.Fatalf("unexpected customer import time %v", c.CustomerImportedAt)
	}
	rates := c.FakturaInfo.Rates
	if rates[0].Status != billing.StatusPaid || rates[0].BillingYear != 2024 || !rates[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected rate1 %+v", rates[0])
	}
	if rates[1].Status != billing.StatusInvoiced || rates[1].InvoicedAt == nil || !rates[1].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected rate2 %+v", rates[1])
	}
	if rates[2].Status != billing.StatusNotInvoiced || rates[2].BillingYear != 2026 {
		t.Fatalf("fresh rate3 must read as not invoiced, got %+v", rates[2])
	}
	if due := c.DueRates(2026); len(due) != 1 || due[0] != billing.Rate3 {
		t.Fatalf("unexpected due rates %v", due)
	}
}

func TestDecodeSettingsDocument(t *testing.T) {
	data, err := bson.Marshal(bson.M{
		"prices": bson.M{"regularPrice": 1000.0, "reducedPrice": "500"},
		"exceptionsFromRegularPrices": bson.M{
			"students": bson.A{bson.M{"fnr": "11111111111"}},
			"classes":  bson.A{bson.M{"className": "VG1"}},
		},
		"exceptionsFromInvoiceFlow": bson.M{"students": bson.A{bson.M{"fnr": "33333333333"}}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m settingsModel
	if err := bson.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	settings := fromSettingsModel(&m)
	if !settings.RegularPrice.Equal(decimal.NewFromInt(1000)) || !settings.ReducedPrice.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected prices %s %s", settings.RegularPrice, settings.ReducedPrice)
	}
	if billing.ResolvePrice("x", "VG1", settings).String() != "500" {
		t.Fatalf("class exception not decoded")
	}
	if !billing.HasInvoiceFlowException("33333333333", settings) {
		t.Fatalf("flow exception not decoded")
	}
}

func TestStatusMatch(t *testing.T) {
	fresh := statusMatch(billing.StatusNotInvoiced)
	values, ok := fresh["$in"].(bson.A)
	if !ok || len(values) != 3 || values[0] != "Ikke Fakturert" || values[1] != nil {
		t.Fatalf("not invoiced must also match a missing status: %v", fresh)
	}
	if got := statusMatch(billing.StatusInvoiced)["$eq"]; got != "Fakturert" {
		t.Fatalf("unexpected match %v", got)
	}
}

func marshalDoc(t *testing.T, doc bson.M) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestDecodeContractNumericIdentifiers(t *testing.T) {
	c, err := decodeContract(marshalDoc(t, bson.M{
		"_id":                bson.NewObjectID(),
		"skoleOrgNr":         int64(974568098),
		"unSignedskjemaInfo": bson.M{"kontraktType": "Leieavtale"},
		"signedBy":           bson.M{"navn": "Kari", "fnr": int64(1018012345)},
		"elevInfo":           bson.M{"navn": "Ola", "fnr": int64(11111111111), "klasse": "2STA"},
		"ansvarligInfo":      bson.M{"navn": "Kari", "fnr": float64(22222222222)},
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.SchoolOrgNr != "974568098" {
		t.Fatalf("org nr = %q", c.SchoolOrgNr)
	}
	if c.Student.NationalID != "11111111111" || c.Guardian == nil || c.Guardian.NationalID != "22222222222" {
		t.Fatalf("unexpected ids %+v %+v", c.Student, c.Guardian)
	}
	if c.SignedBy.NationalID != "01018012345" {
		t.Fatalf("leading zero not restored: %q", c.SignedBy.NationalID)
	}
}

func TestCollectContractsSkipsUndecodableDocuments(t *testing.T) {
	good := bson.NewObjectID()
	bad := bson.NewObjectID()
	docs := []bson.Raw{
		marshalDoc(t, bson.M{"_id": bad, "skoleOrgNr": "974568098", "fakturaInfo": "broken"}),
		marshalDoc(t, bson.M{
			"_id":                good,
			"skoleOrgNr":         int64(974568098),
			"unSignedskjemaInfo": bson.M{"kontraktType": "Leieavtale"},
			"fakturaInfo":        bson.M{"rate1": bson.M{"faktureringsår": 2025}},
		}),
	}
	if _, err := decodeContract(docs[0]); err == nil {
		t.Fatalf("expected decode error for malformed fakturaInfo")
	}
	if got := documentID(docs[0]); got != bad.Hex() {
		t.Fatalf("document id = %q", got)
	}

	contracts := collectContracts(docs, logger.NewNop())
	if len(contracts) != 1 || contracts[0].ID != good.Hex() {
		t.Fatalf("expected only the decodable contract, got %+v", contracts)
	}
	if due := contracts[0].DueRates(2025); len(due) != 1 || due[0] != billing.Rate1 {
		t.Fatalf("unexpected due rates %v", due)
	}
}
