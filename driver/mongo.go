package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoOptions MongoDB 连接选项
type MongoOptions struct {
	URI         string        `cfg:"uri"`
	Host        string        `cfg:"host" def:"localhost"`
	Port        int           `cfg:"port" def:"27017"`
	Database    string        `cfg:"database" validate:"required"`
	Username    string        `cfg:"username"`
	Password    string        `cfg:"password"`
	AuthSource  string        `cfg:"authSource" def:"admin"`
	Timeout     time.Duration `cfg:"timeout" def:"30s"`
	MaxPoolSize uint64        `cfg:"maxPoolSize" def:"100"`
	MinPoolSize uint64        `cfg:"minPoolSize" def:"0"`
}

// Mongo MongoDB 文档驱动。
// 记录的主键值会镜像到 _id，读出时剥除 _id，调用方只看到模式内的字段。
type Mongo struct {
	client   *mongo.Client
	database *mongo.Database

	mutex   sync.RWMutex
	tables  map[string]TableSpec
	indexes map[string]map[string]IndexSpec
}

// NewMongoWithOptions 创建 MongoDB 驱动实例
func NewMongoWithOptions(opts *MongoOptions) (*Mongo, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 27017
	}
	if opts.AuthSource == "" {
		opts.AuthSource = "admin"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = 100
	}

	uri := opts.URI
	if uri == "" {
		if opts.Username != "" && opts.Password != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=%s",
				opts.Username, opts.Password, opts.Host, opts.Port,
				opts.Database, opts.AuthSource)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d/%s", opts.Host, opts.Port, opts.Database)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(opts.MaxPoolSize)
	clientOptions.SetMinPoolSize(opts.MinPoolSize)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongodb")
	}

	// 测试连接
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "failed to ping mongodb")
	}

	return &Mongo{
		client:   client,
		database: client.Database(opts.Database),
		tables:   make(map[string]TableSpec),
		indexes:  make(map[string]map[string]IndexSpec),
	}, nil
}

func (m *Mongo) EnsureTable(ctx context.Context, spec TableSpec) error {
	if spec.PrimaryKey == "" {
		spec.PrimaryKey = "id"
	}

	m.mutex.Lock()
	m.tables[spec.Name] = spec
	if m.indexes[spec.Name] == nil {
		m.indexes[spec.Name] = make(map[string]IndexSpec)
	}
	m.mutex.Unlock()

	// 集合在首次写入时自动创建，这里显式创建以便 sync 之后立刻可见
	err := m.database.CreateCollection(ctx, spec.Name)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errors.Wrapf(err, "failed to create collection %s", spec.Name)
	}
	return nil
}

func (m *Mongo) EnsureIndex(ctx context.Context, table string, index IndexSpec) error {
	keys := bson.D{}
	for _, field := range index.Fields {
		keys = append(keys, bson.E{Key: field, Value: 1})
	}

	indexOptions := options.Index()
	indexOptions.SetName(index.Name)
	if index.Unique {
		indexOptions.SetUnique(true)
	}

	_, err := m.database.Collection(table).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: indexOptions,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errors.Wrapf(err, "failed to create index %s", index.Name)
	}

	m.mutex.Lock()
	if m.indexes[table] == nil {
		m.indexes[table] = make(map[string]IndexSpec)
	}
	m.indexes[table][index.Name] = index
	m.mutex.Unlock()
	return nil
}

func (m *Mongo) Get(ctx context.Context, table string, id any) (Record, error) {
	var doc bson.M
	err := m.database.Collection(table).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrapf(err, "failed to get from %s", table)
	}
	return fromBSON(doc), nil
}

func (m *Mongo) Find(ctx context.Context, table string, conds map[string]any) ([]Record, error) {
	return m.find(ctx, table, condsToFilter(conds), nil)
}

func (m *Mongo) FindByIndex(ctx context.Context, table string, index string, key any) ([]Record, error) {
	m.mutex.RLock()
	spec, ok := m.indexes[table][index]
	m.mutex.RUnlock()
	if !ok || len(spec.Fields) == 0 {
		return nil, errors.WithMessage(ErrIndexNotFound, index)
	}

	findOptions := options.Find().SetHint(index)
	return m.find(ctx, table, bson.M{spec.Fields[0]: key}, findOptions)
}

func (m *Mongo) find(ctx context.Context, table string, filter bson.M, findOptions *options.FindOptions) ([]Record, error) {
	var cursor *mongo.Cursor
	var err error
	if findOptions != nil {
		cursor, err = m.database.Collection(table).Find(ctx, filter, findOptions)
	} else {
		cursor, err = m.database.Collection(table).Find(ctx, filter)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find in %s", table)
	}
	defer cursor.Close(ctx)

	var records []Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrapf(err, "failed to decode record from %s", table)
		}
		records = append(records, fromBSON(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrapf(err, "cursor error on %s", table)
	}
	return records, nil
}

func (m *Mongo) Insert(ctx context.Context, table string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	m.mutex.RLock()
	pk := m.tables[table].PrimaryKey
	m.mutex.RUnlock()
	if pk == "" {
		pk = "id"
	}

	docs := make([]interface{}, len(records))
	for i, record := range records {
		doc := make(bson.M, len(record)+1)
		for k, v := range record {
			doc[k] = v
		}
		doc["_id"] = record[pk]
		docs[i] = doc
	}

	_, err := m.database.Collection(table).InsertMany(ctx, docs)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return errors.Wrapf(err, "failed to insert into %s", table)
	}
	return nil
}

func (m *Mongo) Update(ctx context.Context, table string, ids []any, patch Record) error {
	if len(ids) == 0 {
		return nil
	}

	update := bson.M{"$set": bson.M(patch)}
	_, err := m.database.Collection(table).UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return errors.Wrapf(err, "failed to update %s", table)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, table string, ids []any) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := m.database.Collection(table).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return errors.Wrapf(err, "failed to delete from %s", table)
}

func (m *Mongo) Close() error {
	if m.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return m.client.Disconnect(ctx)
	}
	return nil
}

// condsToFilter 把等值条件转换为查询过滤器，切片值转换为 $in
func condsToFilter(conds map[string]any) bson.M {
	filter := make(bson.M, len(conds))
	for field, value := range conds {
		switch v := value.(type) {
		case []any:
			filter[field] = bson.M{"$in": v}
		case []string:
			filter[field] = bson.M{"$in": v}
		default:
			filter[field] = value
		}
	}
	return filter
}

// fromBSON 把查询结果转换为记录并剥除 _id
func fromBSON(doc bson.M) Record {
	record := make(Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		record[k] = v
	}
	return record
}
