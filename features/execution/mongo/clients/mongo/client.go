// Package mongo hosts the MongoDB client used by the execution audit store.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"github.com/modulith/orchestration/runtime/execution"
)

const (
	defaultExecutionsCollection = "executions"
	defaultOpTimeout            = 5 * time.Second
	executionClientName         = "execution-mongo"
)

// Client exposes Mongo-backed operations for execution audit records.
type Client interface {
	health.Pinger

	SaveExecution(ctx context.Context, rec execution.Record) error
	LoadExecution(ctx context.Context, id string) (execution.Record, error)
	MarkCanceled(ctx context.Context, id string, at time.Time) error
	MarkTerminated(ctx context.Context, id, reason string, at time.Time) error
	ListExecutions(ctx context.Context, f execution.RecordFilter) ([]execution.Record, error)
}

// Options configures the Mongo execution client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB. It creates the collection indexes.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultExecutionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

// Connect dials MongoDB at uri and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongodriver.Client, error) {
	c, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string {
	return executionClientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) SaveExecution(ctx context.Context, rec execution.Record) error {
	if rec.ID == "" {
		return errors.New("execution id is required")
	}
	if rec.Unit == "" {
		return errors.New("unit name is required")
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	doc := fromRecord(rec)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": rec.ID}
	update := bson.M{"$set": doc}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) LoadExecution(ctx context.Context, id string) (execution.Record, error) {
	if id == "" {
		return execution.Record{}, errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc executionDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execution.Record{}, execution.ErrRecordNotFound
		}
		return execution.Record{}, err
	}
	return doc.toRecord(), nil
}

func (c *client) MarkCanceled(ctx context.Context, id string, at time.Time) error {
	return c.mark(ctx, id, bson.M{"canceled_at": at.UTC()})
}

func (c *client) MarkTerminated(ctx context.Context, id, reason string, at time.Time) error {
	return c.mark(ctx, id, bson.M{"terminated_at": at.UTC(), "reason": reason})
}

func (c *client) ListExecutions(ctx context.Context, f execution.RecordFilter) ([]execution.Record, error) {
	filter := bson.M{}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	if f.Unit != "" {
		filter["unit"] = f.Unit
	}
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []executionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execution.Record, len(docs))
	for i, d := range docs {
		out[i] = d.toRecord()
	}
	return out, nil
}

func (c *client) mark(ctx context.Context, id string, set bson.M) error {
	if id == "" {
		return errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return execution.ErrRecordNotFound
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type executionDocument struct {
	ID           string     `bson:"_id"`
	Kind         string     `bson:"kind"`
	Unit         string     `bson:"unit"`
	TaskQueue    string     `bson:"task_queue"`
	CronSchedule string     `bson:"cron_schedule,omitempty"`
	Args         string     `bson:"args,omitempty"`
	RequestedAt  time.Time  `bson:"requested_at"`
	CanceledAt   *time.Time `bson:"canceled_at,omitempty"`
	TerminatedAt *time.Time `bson:"terminated_at,omitempty"`
	Reason       string     `bson:"reason,omitempty"`
}

func fromRecord(rec execution.Record) executionDocument {
	return executionDocument{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Unit:         rec.Unit,
		TaskQueue:    rec.TaskQueue,
		CronSchedule: rec.CronSchedule,
		Args:         string(rec.Args),
		RequestedAt:  rec.RequestedAt.UTC(),
		CanceledAt:   utc(rec.CanceledAt),
		TerminatedAt: utc(rec.TerminatedAt),
		Reason:       rec.Reason,
	}
}

func (doc executionDocument) toRecord() execution.Record {
	rec := execution.Record{
		ID:           doc.ID,
		Kind:         doc.Kind,
		Unit:         doc.Unit,
		TaskQueue:    doc.TaskQueue,
		CronSchedule: doc.CronSchedule,
		RequestedAt:  doc.RequestedAt.UTC(),
		CanceledAt:   utc(doc.CanceledAt),
		TerminatedAt: utc(doc.TerminatedAt),
		Reason:       doc.Reason,
	}
	if doc.Args != "" {
		rec.Args = json.RawMessage(doc.Args)
	}
	return rec
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "unit", Value: 1}, {Key: "requested_at", Value: -1}}},
		{Keys: bson.D{{Key: "requested_at", Value: -1}}},
	})
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel) ([]string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel) ([]string, error) {
	return v.view.CreateMany(ctx, models)
}
