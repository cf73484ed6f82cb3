package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Tick records live in one collection as JSON blobs keyed by their
// RFC3339 timestamp so range queries work on document IDs alone.
type FirestoreProvider struct {
	client     *firestore.Client
	projectID  string
	database   string
	collection string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	collection := lflag.String("firestore-collection", "tick_records", "Collection holding tick records")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.collection = *collection

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.collection == "" {
		return fmt.Errorf("firestore-collection cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// InsertTickRecord stores one record as a JSON blob. The document ID is the
// RFC3339 tick timestamp for lexicographic ordering and efficient range
// queries.
func (f *FirestoreProvider) InsertTickRecord(ctx context.Context, record types.TickRecord) error {
	if record.TickTS.IsZero() {
		return fmt.Errorf("tick record missing tickTS")
	}
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal tick record: %w", err)
	}

	docID := record.TickTS.UTC().Format(time.RFC3339)
	_, err = f.client.Collection(f.collection).Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": record.TickTS,
	})
	if err != nil {
		return fmt.Errorf("failed to insert tick record: %w", err)
	}
	return nil
}

// GetTickRecord retrieves the record for one tick by document ID.
func (f *FirestoreProvider) GetTickRecord(ctx context.Context, tickTS time.Time) (types.TickRecord, bool, error) {
	docID := tickTS.UTC().Format(time.RFC3339)
	doc, err := f.client.Collection(f.collection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.TickRecord{}, false, nil
		}
		return types.TickRecord{}, false, fmt.Errorf("failed to get tick record %s: %w", docID, err)
	}

	r, err := decodeTickRecord(doc)
	if err != nil {
		return types.TickRecord{}, false, err
	}
	return r, true, nil
}

// GetTickRecords retrieves records within the specified time range. Uses
// document ID range queries so only matching documents are read.
func (f *FirestoreProvider) GetTickRecords(ctx context.Context, start, end time.Time) ([]types.TickRecord, error) {
	coll := f.client.Collection(f.collection)
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var records []types.TickRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating tick records: %w", err)
		}

		r, err := decodeTickRecord(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping bad tick record doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// decodeTickRecord unpacks the JSON blob stored under the "json" key.
func decodeTickRecord(doc *firestore.DocumentSnapshot) (types.TickRecord, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.TickRecord{}, fmt.Errorf("tick record document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.TickRecord{}, fmt.Errorf("tick record document %s 'json' field is not string", doc.Ref.ID)
	}
	var r types.TickRecord
	if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
		return types.TickRecord{}, fmt.Errorf("failed to unmarshal tick record (id=%s): %w", doc.Ref.ID, err)
	}
	return r, nil
}

// GetLatestTickTime retrieves the timestamp of the last stored record.
func (f *FirestoreProvider) GetLatestTickTime(ctx context.Context) (time.Time, error) {
	// firestore automatically creates indexes for top-level fields
	iter := f.client.Collection(f.collection).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest tick record doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid tick record doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}
