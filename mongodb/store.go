package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Store serves the collections of one database through persistence.Finder.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	registry *schema.Registry
	logger   *zap.Logger
}

var _ persistence.Finder = (*Store)(nil)

// New wraps an open database. The registry supplies field types and the
// relations loaded by Find; it may be nil.
func New(db *mongo.Database, registry *schema.Registry, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:   db.Client(),
		db:       db,
		registry: registry,
		logger:   logger,
	}
}

// Connect opens a client for uri and checks the server is reachable.
func Connect(ctx context.Context, uri, database string, registry *schema.Registry, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		err = fmt.Errorf("failed to ping mongodb: %w", err)
		if dcErr := client.Disconnect(ctx); dcErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to disconnect from mongodb: %w", dcErr))
		}
		return nil, err
	}
	return New(client.Database(database), registry, logger), nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) schemaOf(collection string) *schema.SchemaDefinition {
	if s.registry == nil {
		return nil
	}
	sc, err := s.registry.Schema(collection)
	if err != nil {
		return nil
	}
	return sc
}

// Find implements persistence.Finder. Stored _id values come back as "id",
// ObjectIDs in their hex form.
func (s *Store) Find(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, error) {
	if err := schema.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	filter, err := CompileWhere(s.schemaOf(collection), opts.Where)
	if err != nil {
		return nil, err
	}
	sort, err := CompileSort(opts.Order)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if len(sort) > 0 {
		findOpts.SetSort(sort)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	s.logger.Debug("Executing mongo find", zap.String("collection", collection), zap.Any("filter", filter))
	cursor, err := s.db.Collection(collection).Find(ctx, filter, findOpts)
	if err != nil {
		s.logger.Error("Failed to execute find", zap.Error(err), zap.String("collection", collection))
		return nil, fmt.Errorf("failed to execute find on '%s': %w", collection, err)
	}
	defer cursor.Close(ctx)

	rows := []schema.Document{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		rows = append(rows, FromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	if err := persistence.LoadRelations(ctx, s, s.registry, collection, rows, opts.Relations); err != nil {
		return nil, err
	}
	return rows, nil
}

// FromBSON converts a decoded document into a schema.Document.
func FromBSON(raw bson.M) schema.Document {
	doc := make(schema.Document, len(raw))
	for k, v := range raw {
		if k == IDField {
			k = schema.IDField
		}
		doc[k] = fromBSONValue(v)
	}
	return doc
}

func fromBSONValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.M:
		return map[string]any(FromBSON(val))
	case primitive.D:
		return map[string]any(FromBSON(val.Map()))
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromBSONValue(item)
		}
		return out
	default:
		return v
	}
}
