package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type mongoHandler struct {
	cfg Config

	mu     sync.Mutex
	client *mongo.Client
}

// mongoQuery is the JSON shape accepted by Execute for mongodb connections.
type mongoQuery struct {
	Collection string           `json:"collection"`
	Operation  string           `json:"operation"`
	Filter     map[string]any   `json:"filter,omitempty"`
	Projection map[string]any   `json:"projection,omitempty"`
	Sort       map[string]any   `json:"sort,omitempty"`
	Limit      int64            `json:"limit,omitempty"`
	Pipeline   []map[string]any `json:"pipeline,omitempty"`
}

func newMongoDBHandler(cfg Config, _ *Factory) (Handler, error) {
	return &mongoHandler{cfg: cfg}, nil
}

func (h *mongoHandler) Kind() Kind { return KindMongoDB }

func (h *mongoHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query"}
}

func (h *mongoHandler) uri() string {
	if cs := h.cfg.StringOption("connectionString", ""); cs != "" {
		return cs
	}
	host := h.cfg.StringOption("host", "localhost")
	port := h.cfg.IntOption("port", 27017)
	user := h.cfg.StringOption("username", "")
	pass := h.cfg.StringOption("password", "")
	authSource := h.cfg.StringOption("authSource", "admin")

	var b strings.Builder
	b.WriteString("mongodb://")
	if user != "" {
		b.WriteString(url.QueryEscape(user))
		if pass != "" {
			b.WriteString(":")
			b.WriteString(url.QueryEscape(pass))
		}
		b.WriteString("@")
	}
	fmt.Fprintf(&b, "%s:%d/", host, port)
	if user != "" {
		b.WriteString("?authSource=" + url.QueryEscape(authSource))
	}
	return b.String()
}

func (h *mongoHandler) database() string {
	return h.cfg.StringOption("database", "")
}

func (h *mongoHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return nil
	}

	opts := options.Client().
		ApplyURI(h.uri()).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	h.client = client
	return nil
}

func (h *mongoHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil
	}
	err := h.client.Disconnect(ctx)
	h.client = nil
	return err
}

func (h *mongoHandler) Test(ctx context.Context) (*TestResult, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}

	var info struct {
		Version string `bson:"version"`
	}
	_ = client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).
		Decode(&info)

	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Version:   "MongoDB " + info.Version,
	}, nil
}

// Schema lists collections as tables. With columns it samples one document
// per collection and reports its top-level fields.
func (h *mongoHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	db := client.Database(h.database())
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	snapshot := &SchemaSnapshot{Database: h.database()}
	for _, name := range names {
		table := TableDescriptor{Name: name}

		if count, err := db.Collection(name).EstimatedDocumentCount(ctx); err == nil {
			table.RowCountEstimate = &count
		}

		if includeColumns {
			var sample bson.D
			err := db.Collection(name).FindOne(ctx, bson.D{}).Decode(&sample)
			if err == nil {
				for _, field := range sample {
					table.Columns = append(table.Columns, ColumnDescriptor{
						Name:       field.Key,
						TypeString: mongoTypeName(field.Value),
						Nullable:   true,
					})
				}
			} else if err != mongo.ErrNoDocuments {
				return nil, fmt.Errorf("sample %s: %w", name, err)
			}
		}
		snapshot.Tables = append(snapshot.Tables, table)
	}
	return snapshot, nil
}

// Execute runs a JSON query document of the form
//
//	{"collection": "orders", "operation": "find", "filter": {...}, "limit": 100}
//
// Supported operations are find, aggregate and count.
func (h *mongoHandler) Execute(ctx context.Context, query string, _ map[string]any) *QueryResult {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return FailedResult("not connected")
	}

	var q mongoQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return FailedResult("query must be a JSON document: %v", err)
	}
	if q.Collection == "" {
		return FailedResult("query is missing \"collection\"")
	}
	if q.Operation == "" {
		q.Operation = "find"
	}

	start := time.Now()
	coll := client.Database(h.database()).Collection(q.Collection)

	switch q.Operation {
	case "find":
		opts := options.Find()
		if q.Limit > 0 {
			opts = opts.SetLimit(q.Limit)
		}
		if len(q.Projection) > 0 {
			opts = opts.SetProjection(toBSON(q.Projection))
		}
		if len(q.Sort) > 0 {
			opts = opts.SetSort(toBSON(q.Sort))
		}
		filter := bson.D{}
		if len(q.Filter) > 0 {
			filter = toBSON(q.Filter)
		}
		cursor, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return FailedResult("%v", err)
		}
		return h.drainCursor(ctx, cursor, start)

	case "aggregate":
		if len(q.Pipeline) == 0 {
			return FailedResult("aggregate requires a \"pipeline\"")
		}
		pipeline := make(mongo.Pipeline, 0, len(q.Pipeline))
		for _, stage := range q.Pipeline {
			pipeline = append(pipeline, toBSON(stage))
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return FailedResult("%v", err)
		}
		return h.drainCursor(ctx, cursor, start)

	case "count":
		filter := bson.D{}
		if len(q.Filter) > 0 {
			filter = toBSON(q.Filter)
		}
		count, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return FailedResult("%v", err)
		}
		return ResultSince(start, []string{"count"}, []map[string]any{{"count": count}})

	default:
		return FailedResult("unsupported operation %q (want find, aggregate or count)", q.Operation)
	}
}

func (h *mongoHandler) drainCursor(ctx context.Context, cursor *mongo.Cursor, start time.Time) *QueryResult {
	defer cursor.Close(ctx)

	var docs []bson.D
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return FailedResult("%v", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return FailedResult("%v", err)
	}

	columns, rows := flattenDocuments(docs)
	return ResultSince(start, columns, rows)
}

// flattenDocuments turns BSON documents into row maps with dotted keys for
// nested documents. Column order is first-seen document order, so every run
// over the same data produces the same header.
func flattenDocuments(docs []bson.D) ([]string, []map[string]any) {
	var columns []string
	seen := map[string]bool{}
	rows := make([]map[string]any, 0, len(docs))

	for _, doc := range docs {
		row := map[string]any{}
		flattenInto(row, "", doc, &columns, seen)
		rows = append(rows, row)
	}
	return columns, rows
}

func flattenInto(row map[string]any, prefix string, doc bson.D, columns *[]string, seen map[string]bool) {
	for _, field := range doc {
		key := field.Key
		if prefix != "" {
			key = prefix + "." + field.Key
		}
		if nested, ok := field.Value.(bson.D); ok {
			flattenInto(row, key, nested, columns, seen)
			continue
		}
		if !seen[key] {
			seen[key] = true
			*columns = append(*columns, key)
		}
		row[key] = normalizeBSONValue(field.Value)
	}
}

func normalizeBSONValue(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			if nested, ok := item.(bson.D); ok {
				m := map[string]any{}
				for _, f := range nested {
					m[f.Key] = normalizeBSONValue(f.Value)
				}
				out[i] = m
				continue
			}
			out[i] = normalizeBSONValue(item)
		}
		return out
	default:
		return v
	}
}

func mongoTypeName(v any) string {
	switch v.(type) {
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.D:
		return "document"
	case bson.A:
		return "array"
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// toBSON converts a JSON-decoded map into an ordered document. Keys are
// sorted so the same query text always produces the same wire document.
func toBSON(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(m))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: toBSONValue(m[k])})
	}
	return doc
}

func toBSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return toBSON(val)
	case []any:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = toBSONValue(item)
		}
		return out
	default:
		return v
	}
}
