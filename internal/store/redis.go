package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/rueidis"
)

// RedisOptions holds connection parameters for the Redis index.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisIndex implements Index on Redis with the search module. Each
// collection is one FT index over hashes under "<namespace>:chunk:".
//
// Key layout:
//
//	<ns>:meta                  hash, dimensions of the collection
//	<ns>:chunk:<file>:<index>  hash, one chunk with its vector
//	<ns>:file:<file>           set of chunk keys of one file
//	<ns>:files                 set of file ids
type RedisIndex struct {
	client rueidis.Client
}

// NewRedisIndex connects to Redis.
func NewRedisIndex(opts RedisOptions) (*RedisIndex, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{opts.Addr},
		Username:     opts.Username,
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH parsing expects the RESP2 array layout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	log.Debug("Connected to Redis index", "addr", opts.Addr)

	return &RedisIndex{client: client}, nil
}

// NewRedisIndexWithClient wraps an existing client, typically a mock.
func NewRedisIndexWithClient(client rueidis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

// Backend implements Index.
func (r *RedisIndex) Backend() string { return "redis" }

// Close implements Index.
func (r *RedisIndex) Close() error {
	r.client.Close()
	return nil
}

func metaKey(ns string) string            { return ns + ":meta" }
func chunkPrefix(ns string) string        { return ns + ":chunk:" }
func fileSetKey(ns, fileID string) string { return ns + ":file:" + fileID }
func filesKey(ns string) string           { return ns + ":files" }

func chunkKey(ns, fileID string, idx int) string {
	return chunkPrefix(ns) + fileID + ":" + strconv.Itoa(idx)
}

// Open implements Index.
func (r *RedisIndex) Open(ctx context.Context, namespace string) (Collection, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	cmd := r.client.B().Hget().Key(metaKey(namespace)).Field("dimensions").Build()
	dims, err := r.client.Do(ctx, cmd).AsInt64()
	if rueidis.IsRedisNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return &redisCollection{client: r.client, name: namespace, dims: int(dims)}, nil
}

// Create implements Index.
func (r *RedisIndex) Create(ctx context.Context, namespace string, dimensions int) (Collection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", dimensions)
	}

	existing, err := r.Open(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Dimensions() != dimensions {
			return nil, fmt.Errorf("%w: collection %s has %d dimensions, got %d",
				ErrDimensionMismatch, namespace, existing.Dimensions(), dimensions)
		}
		return existing, nil
	}

	args := []string{
		namespace, "ON", "HASH", "PREFIX", "1", chunkPrefix(namespace),
		"SCHEMA",
		"file_id", "TAG",
		"filename", "TEXT",
		"content", "TEXT",
		"chunk_index", "NUMERIC",
		"embedded", "NUMERIC",
		"embedding", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
	cmd := r.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "index already exists") {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	meta := r.client.B().Hset().Key(metaKey(namespace)).FieldValue().
		FieldValue("dimensions", strconv.Itoa(dimensions)).Build()
	if err := r.client.Do(ctx, meta).Error(); err != nil {
		return nil, fmt.Errorf("failed to store collection metadata: %w", err)
	}

	log.Debug("Created collection", "namespace", namespace, "dimensions", dimensions)

	return &redisCollection{client: r.client, name: namespace, dims: dimensions}, nil
}

// Drop implements Index.
func (r *RedisIndex) Drop(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}

	// DD removes the indexed hashes along with the index
	drop := r.client.B().Arbitrary("FT.DROPINDEX").Args(namespace, "DD").Build()
	if err := r.client.Do(ctx, drop).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return fmt.Errorf("failed to drop index: %w", err)
	}

	fileIDs, err := r.client.Do(ctx, r.client.B().Smembers().Key(filesKey(namespace)).Build()).AsStrSlice()
	if err != nil && !rueidis.IsRedisNil(err) {
		return fmt.Errorf("failed to list files: %w", err)
	}

	keys := []string{metaKey(namespace), filesKey(namespace)}
	for _, id := range fileIDs {
		keys = append(keys, fileSetKey(namespace, id))
	}
	if err := r.client.Do(ctx, r.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete collection keys: %w", err)
	}

	return nil
}

type redisCollection struct {
	client rueidis.Client
	name   string
	dims   int
}

func (c *redisCollection) Namespace() string { return c.name }
func (c *redisCollection) Dimensions() int   { return c.dims }

// Upsert writes every chunk hash and its set memberships in one round-trip.
// A zero vector is not written, so the chunk stays out of the KNN graph and
// is found through its embedded=0 flag instead.
func (c *redisCollection) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if err := checkBatch(chunks, embeddings, c.dims); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	b := c.client.B()
	cmds := make(rueidis.Commands, 0, len(chunks)*3)
	for i, ch := range chunks {
		key := chunkKey(c.name, ch.FileID, ch.ChunkIndex)
		hset := b.Hset().Key(key).FieldValue().
			FieldValue("file_id", ch.FileID).
			FieldValue("filename", ch.Filename).
			FieldValue("file_type", ch.FileType).
			FieldValue("chunk_index", strconv.Itoa(ch.ChunkIndex)).
			FieldValue("content", ch.Content).
			FieldValue("user_id", ch.UserID).
			FieldValue("conversation_id", ch.ConversationID)
		if isZeroVector(embeddings[i]) {
			hset = hset.FieldValue("embedded", "0")
		} else {
			hset = hset.FieldValue("embedded", "1").
				FieldValue("embedding", vectorToBytes(embeddings[i]))
		}
		cmds = append(cmds,
			hset.Build(),
			b.Sadd().Key(fileSetKey(c.name, ch.FileID)).Member(key).Build(),
			b.Sadd().Key(filesKey(c.name)).Member(ch.FileID).Build(),
		)
	}

	for i, res := range c.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", i/3, err)
		}
	}

	log.Debug("Upserted chunks", "namespace", c.name, "chunks", len(chunks))
	return nil
}

// DeleteByFile removes a file's hashes inside MULTI/EXEC.
func (c *redisCollection) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	b := c.client.B()
	setKey := fileSetKey(c.name, fileID)

	keys, err := c.client.Do(ctx, b.Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil && !rueidis.IsRedisNil(err) {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	results := c.client.DoMulti(ctx,
		b.Multi().Build(),
		b.Del().Key(keys...).Build(),
		b.Del().Key(setKey).Build(),
		b.Srem().Key(filesKey(c.name)).Member(fileID).Build(),
		b.Exec().Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return 0, fmt.Errorf("failed to delete chunks: %w", err)
		}
	}

	return len(keys), nil
}

// Search runs FT.SEARCH with a KNN clause. The file filter is a tag
// pre-filter so KNN only considers matching chunks. When KNN yields fewer
// than k hits, chunks stored without an embedding fill the rest at
// UnembeddedDistance.
func (c *redisCollection) Search(ctx context.Context, query []float32, k int, fileIDs []string) ([]Hit, error) {
	if len(query) != c.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(query), c.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	knn := fmt.Sprintf("[KNN %d @embedding $BLOB AS distance]", k)
	queryStr := "*=>" + knn
	if len(fileIDs) > 0 {
		queryStr = fmt.Sprintf("(%s)=>%s", buildFileFilter(fileIDs), knn)
	}

	fields := []string{"file_id", "filename", "file_type", "chunk_index", "content", "user_id", "conversation_id", "distance"}
	args := []string{c.name, queryStr, "RETURN", strconv.Itoa(len(fields))}
	args = append(args, fields...)
	args = append(args,
		"SORTBY", "distance",
		"LIMIT", "0", strconv.Itoa(k),
		"PARAMS", "2", "BLOB", vectorToBytes(query),
		"DIALECT", "2",
	)

	cmd := c.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := c.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := parseKNNResult(raw)
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) >= k {
		return hits[:k], nil
	}

	rest, err := c.unembedded(ctx, fileIDs, k-len(hits))
	if err != nil {
		return nil, err
	}
	return append(hits, rest...), nil
}

// unembedded lists up to n chunks that were stored without a vector.
func (c *redisCollection) unembedded(ctx context.Context, fileIDs []string, n int) ([]Hit, error) {
	queryStr := "@embedded:[0 0]"
	if len(fileIDs) > 0 {
		queryStr = fmt.Sprintf("(%s %s)", buildFileFilter(fileIDs), queryStr)
	}

	fields := []string{"file_id", "filename", "file_type", "chunk_index", "content", "user_id", "conversation_id"}
	args := []string{c.name, queryStr, "RETURN", strconv.Itoa(len(fields))}
	args = append(args, fields...)
	args = append(args, "LIMIT", "0", strconv.Itoa(n), "DIALECT", "2")

	raw, err := c.client.Do(ctx, c.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded chunks: %w", err)
	}

	hits := parseKNNResult(raw)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Chunk.FileID != hits[j].Chunk.FileID {
			return hits[i].Chunk.FileID < hits[j].Chunk.FileID
		}
		return hits[i].Chunk.ChunkIndex < hits[j].Chunk.ChunkIndex
	})
	return hits, nil
}

// Chunks implements Collection.
func (c *redisCollection) Chunks(ctx context.Context, fileID string) ([]Chunk, error) {
	b := c.client.B()
	keys, err := c.client.Do(ctx, b.Smembers().Key(fileSetKey(c.name, fileID)).Build()).AsStrSlice()
	if err != nil && !rueidis.IsRedisNil(err) {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make(rueidis.Commands, len(keys))
	for i, key := range keys {
		cmds[i] = b.Hmget().Key(key).Field(
			"file_id", "filename", "file_type", "chunk_index", "content", "user_id", "conversation_id",
		).Build()
	}

	chunks := make([]Chunk, 0, len(keys))
	for i, res := range c.client.DoMulti(ctx, cmds...) {
		values, err := res.AsStrSlice()
		if err != nil {
			return nil, fmt.Errorf("failed to get chunk %s: %w", keys[i], err)
		}
		if len(values) != 7 || values[0] == "" {
			continue
		}
		idx, _ := strconv.Atoi(values[3])
		chunks = append(chunks, Chunk{
			FileID:         values[0],
			Filename:       values[1],
			FileType:       values[2],
			ChunkIndex:     idx,
			Content:        values[4],
			UserID:         values[5],
			ConversationID: values[6],
		})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// Count implements Collection.
func (c *redisCollection) Count(ctx context.Context) (int, error) {
	cmd := c.client.B().Arbitrary("FT.SEARCH").Args(c.name, "*", "LIMIT", "0", "0").Build()
	raw, err := c.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse count: %w", err)
	}
	return int(total), nil
}

// parseKNNResult reads the 2-stride [total, key1, fields1, key2, fields2, ...] reply.
func parseKNNResult(raw []rueidis.RedisMessage) []Hit {
	if len(raw) < 3 {
		return nil
	}

	hits := make([]Hit, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		values, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		f := parseFieldPairs(values)

		distance, ok := parseDistance(f["distance"])
		if !ok {
			continue
		}
		idx, _ := strconv.Atoi(f["chunk_index"])

		hits = append(hits, Hit{
			Chunk: Chunk{
				FileID:         f["file_id"],
				Filename:       f["filename"],
				FileType:       f["file_type"],
				ChunkIndex:     idx,
				Content:        f["content"],
				UserID:         f["user_id"],
				ConversationID: f["conversation_id"],
			},
			Distance: distance,
			Score:    1 - distance,
		})
	}
	return hits
}

// parseDistance reads a KNN distance. A missing or NaN distance belongs to
// a chunk without a usable vector and maps to UnembeddedDistance.
func parseDistance(s string) (float64, bool) {
	if s == "" || strings.Contains(strings.ToLower(s), "nan") {
		return UnembeddedDistance, true
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func buildFileFilter(fileIDs []string) string {
	escaped := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		escaped[i] = tagEscaper.Replace(id)
	}
	return "@file_id:{" + strings.Join(escaped, "|") + "}"
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	" ", "\\ ",
)

func vectorToBytes(v []float32) string {
	return string(serializeEmbedding(v))
}

// isRedisErr reports whether err is a Redis server error mentioning substr.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
