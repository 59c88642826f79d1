package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	billing "rental-billing/internal/billing/domain"
	"rental-billing/internal/platform/logger"
)

// counterID is the document in the counters collection holding the serial sequence.
const counterID = "serialNumberIteration"

// rentalTypes are the contract type spellings found in stored documents.
var rentalTypes = bson.A{"Leieavtale", "leieavtale"}

// CollectionNamer resolves collection tags to configured names.
type CollectionNamer interface {
	CollectionName(c billing.Collection) (string, error)
}

// compile-time interface checks
var (
	_ billing.ContractRepository = (*Store)(nil)
	_ billing.SerialNumberStore  = (*Store)(nil)
	_ billing.SettingsRepository = (*Store)(nil)
)

// Store implements the billing repositories on MongoDB.
type Store struct {
	client    *mongo.Client
	contracts *mongo.Collection
	serials   *mongo.Collection
	counters  *mongo.Collection
	settings  *mongo.Collection

	log *logger.Logger

	seedMu sync.Mutex
	seeded bool
}

// Open connects to uri and resolves every collection the store needs.
func Open(ctx context.Context, uri, database string, names CollectionNamer) (*Store, error) {
	if uri == "" {
		return nil, errors.New("billing/mongo: uri required")
	}
	if database == "" {
		return nil, errors.New("billing/mongo: database required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, billing.NewStorageError("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, billing.NewStorageError("ping", err)
	}
	store, err := New(client, database, names)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string, names CollectionNamer) (*Store, error) {
	if client == nil {
		return nil, errors.New("billing/mongo: nil client")
	}
	if names == nil {
		return nil, errors.New("billing/mongo: nil collection namer")
	}
	db := client.Database(database)
	resolve := func(c billing.Collection) (*mongo.Collection, error) {
		name, err := names.CollectionName(c)
		if err != nil {
			return nil, err
		}
		return db.Collection(name), nil
	}
	s := &Store{client: client, log: logger.NewNop()}
	var err error
	if s.contracts, err = resolve(billing.CollectionContracts); err != nil {
		return nil, err
	}
	if s.serials, err = resolve(billing.CollectionSerialNumbers); err != nil {
		return nil, err
	}
	if s.counters, err = resolve(billing.CollectionCounters); err != nil {
		return nil, err
	}
	if s.settings, err = resolve(billing.CollectionSettings); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the serial number indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.serials.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "serialNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "iterationNumber", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("billing/mongo: migrate serial number indexes: %w", err)
	}
	return nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(log *logger.Logger) {
	if log != nil {
		s.log = log
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ==================== Contract repository ====================

func (s *Store) FindInvoiceCandidates(ctx context.Context, q billing.InvoiceQuery) ([]billing.Contract, error) {
	year := strconv.Itoa(q.BillingYear)
	yearMatch := bson.M{"$in": bson.A{year, q.BillingYear}}
	or := bson.A{}
	for _, key := range billing.RateKeys {
		or = append(or, bson.M{rateField(key, "faktureringsår"): yearMatch})
	}
	filter := bson.M{
		"unSignedskjemaInfo.kontraktType": bson.M{"$in": rentalTypes},
		"notFoundInFINT.date":             bson.M{"$exists": false},
		"$or":                             or,
	}
	if q.CustomerImportedBefore != nil {
		filter["isImportedToXledger"] = bson.M{"$in": bson.A{true, "true"}}
		filter["importedToXledgerAt"] = bson.M{"$lte": q.CustomerImportedBefore.UTC()}
	}

	contracts, err := s.findContracts(ctx, filter)
	if err != nil {
		return nil, billing.NewStorageError("find invoice candidates", err)
	}
	if len(contracts) == 0 {
		return nil, billing.ErrNotFound
	}
	return contracts, nil
}

func (s *Store) FindReconcileCandidates(ctx context.Context, q billing.ReconcileQuery) ([]billing.Contract, error) {
	since := q.InvoicedSince.UTC()
	or := bson.A{}
	for _, key := range billing.RateKeys {
		serial := bson.M{"$nin": bson.A{nil, "", "Ukjent"}}
		or = append(or,
			bson.M{rateField(key, "faktureringsDato"): bson.M{"$gte": formatTime(since)}, rateField(key, "løpenummer"): serial},
			bson.M{rateField(key, "faktureringsDato"): bson.M{"$gte": since}, rateField(key, "løpenummer"): serial},
		)
	}

	found, err := s.findContracts(ctx, bson.M{"$or": or})
	if err != nil {
		return nil, billing.NewStorageError("find reconcile candidates", err)
	}
	var contracts []billing.Contract
	for _, c := range found {
		for _, rate := range c.FakturaInfo.Rates {
			if rate.AwaitingSettlement(since) {
				contracts = append(contracts, c)
				break
			}
		}
	}
	if len(contracts) == 0 {
		return nil, billing.ErrNotFound
	}
	return contracts, nil
}

func (s *Store) findContracts(ctx context.Context, filter bson.M) ([]billing.Contract, error) {
	cursor, err := s.contracts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return collectContracts(docs, s.log), nil
}

// collectContracts decodes each document on its own. A document that cannot be
// decoded is logged and left out so the rest of the run still sees its contracts.
func collectContracts(docs []bson.Raw, log *logger.Logger) []billing.Contract {
	contracts := make([]billing.Contract, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeContract(doc)
		if err != nil {
			log.Warn("contract_decode_failed", "contract_id", documentID(doc), "error", err)
			continue
		}
		contracts = append(contracts, c)
	}
	return contracts
}

func documentID(doc bson.Raw) string {
	v, err := doc.LookupErr("_id")
	if err != nil {
		return ""
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return stringFrom(v)
}

// UpdateInstallment writes update with a filter on the current status, so a
// concurrent writer makes the update match nothing instead of overwriting it.
func (s *Store) UpdateInstallment(ctx context.Context, contractID string, key billing.RateKey, expected billing.Status, update billing.InstallmentUpdate) error {
	oid, err := bson.ObjectIDFromHex(contractID)
	if err != nil {
		return &billing.ValidationError{Field: "id", Message: fmt.Sprintf("not an object id: %q", contractID)}
	}
	if key.Number() == 0 {
		return billing.ErrInvalidRate
	}

	filter := bson.M{"_id": oid, rateField(key, "status"): statusMatch(expected)}
	set := bson.M{rateField(key, "status"): update.Status.String()}
	if update.InvoicedAt != nil {
		set[rateField(key, "faktureringsDato")] = formatTime(*update.InvoicedAt)
	}
	if update.SerialNumber != "" {
		set[rateField(key, "løpenummer")] = update.SerialNumber
	}
	if update.Amount != nil {
		set[rateField(key, "sum")] = update.Amount.InexactFloat64()
	}

	res, err := s.contracts.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return billing.NewStorageError("update installment", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.contracts.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return billing.NewStorageError("update installment", err)
	}
	if n == 0 {
		return billing.ErrNotFound
	}
	return billing.ErrStatusConflict
}

// statusMatch matches the stored label. A fresh installment has no status field.
func statusMatch(status billing.Status) bson.M {
	if status == billing.StatusNotInvoiced {
		return bson.M{"$in": bson.A{status.String(), nil, ""}}
	}
	return bson.M{"$eq": status.String()}
}

func rateField(key billing.RateKey, field string) string {
	return "fakturaInfo." + string(key) + "." + field
}

// ==================== Serial number store ====================

// NextIteration increments the shared counter. On first use in this process the
// counter is raised to the highest iteration already in the serial number log.
func (s *Store) NextIteration(ctx context.Context) (int64, error) {
	if err := s.seedCounter(ctx); err != nil {
		return 0, billing.NewStorageError("seed serial counter", err)
	}
	var counter counterModel
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, billing.NewStorageError("next serial iteration", err)
	}
	return counter.Seq, nil
}

func (s *Store) seedCounter(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return nil
	}
	var latest serialNumberModel
	err := s.serials.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "iterationNumber", Value: -1}}),
	).Decode(&latest)
	if err != nil && !isNoDocuments(err) {
		return err
	}
	_, err = s.counters.UpdateOne(ctx,
		bson.M{"_id": counterID},
		bson.M{"$max": bson.M{"seq": latest.IterationNumber}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return err
	}
	s.seeded = true
	return nil
}

func (s *Store) AppendSerialNumber(ctx context.Context, record billing.SerialNumberRecord) error {
	if _, err := s.serials.InsertOne(ctx, toSerialNumberModel(record)); err != nil {
		return billing.NewStorageError("append serial number", err)
	}
	return nil
}

// ==================== Settings repository ====================

func (s *Store) LoadPriceSettings(ctx context.Context) (billing.PriceSettings, error) {
	var m settingsModel
	if err := s.settings.FindOne(ctx, bson.M{}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return billing.PriceSettings{}, billing.ErrNotFound
		}
		return billing.PriceSettings{}, billing.NewStorageError("load price settings", err)
	}
	return fromSettingsModel(&m), nil
}

// InitPriceSettings inserts settings unless a settings document already exists.
func (s *Store) InitPriceSettings(ctx context.Context, settings billing.PriceSettings) error {
	_, err := s.settings.UpdateOne(ctx,
		bson.M{},
		bson.M{"$setOnInsert": toSettingsDocument(settings)},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return billing.NewStorageError("init price settings", err)
	}
	return nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
