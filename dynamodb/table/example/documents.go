// Package example models versioned documents in a single table: the current
// version of each document plus an immutable revision per version, and a
// sparse owner index.
package example

import (
	"context"
	"errors"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/ddberr"
	"github.com/acksell/ddbmodel/dynamodb/ddbsdk"
	"github.com/acksell/ddbmodel/dynamodb/expr"
	"github.com/acksell/ddbmodel/dynamodb/projection"
	"github.com/acksell/ddbmodel/dynamodb/table"
)

var Table = func() table.TableDefinition {
	def := table.StandardTable("example", 1, 0)
	def.TimeToLiveKey = "expires"
	return def
}()

var OwnerIndex = Table.GSIs[0]

var documentKeys = table.EntityKeys{
	Primary: table.PrimaryIndexDefinition{
		Table:          Table,
		PartitionKeyer: table.PatternKeyer("DOC#{id}"),
		SortKeyer:      table.PatternKeyer("CURRENT"),
	},
	Secondary: []table.SecondaryIndexDefinition{{
		Index:          OwnerIndex,
		PartitionKeyer: table.PatternKeyer("OWNER#{owner}"),
		SortKeyer:      table.FmtKeyer("DOC#%s", "id"),
	}},
}

// Document is the current version of a document.
type Document struct {
	ID      string `dynamodbav:"id"`
	Version int    `dynamodbav:"version"`
	Value   string `dynamodbav:"value"`
	// Owner is optional; unowned documents are left out of OwnerIndex.
	Owner string `dynamodbav:"owner,omitempty"`
}

func (Document) EntityType() string { return "document" }

func (d Document) FullKey() (table.FullKey, error) { return documentKeys.FullKey(d) }

// Revision is the immutable copy of one version of a document.
type Revision struct {
	ID      string `dynamodbav:"id"`
	Version int    `dynamodbav:"version"`
	Value   string `dynamodbav:"value"`
}

func (Revision) EntityType() string { return "revision" }

func (r Revision) FullKey() (table.FullKey, error) {
	if r.ID == "" || r.Version < 1 {
		return table.FullKey{}, ddberr.Validationf("revision needs an id and a positive version")
	}
	return table.FullKey{Primary: revisionKey(r.ID, r.Version)}, nil
}

// revision sort keys are zero padded so they sort by version.
func revisionKey(id string, version int) table.PrimaryKey {
	return table.NewKey(Table.KeyDefinitions, documentPartition(id), fmt.Sprintf("VERSION#%08d", version))
}

func documentPartition(id string) string { return "DOC#" + id }

func documentKey(id string) table.PrimaryKey {
	return table.NewKey(Table.KeyDefinitions, documentPartition(id), "CURRENT")
}

// Summary is the projection read from OwnerIndex.
type Summary struct {
	ID      string `dynamodbav:"id"`
	Version int    `dynamodbav:"version"`
}

// ErrConflict is returned by Save when the stored version is not the one
// the caller started from.
var ErrConflict = errors.New("document was changed concurrently")

type Store struct {
	c         *ddbsdk.Client
	revisions *projection.Registry[Revision]
	summaries *projection.Registry[Summary]
}

func NewStore(c *ddbsdk.Client) (*Store, error) {
	if c.Table().Name != Table.Name {
		return nil, fmt.Errorf("client is bound to table %q, want %q", c.Table().Name, Table.Name)
	}
	s := &Store{
		c:         c,
		revisions: projection.NewRegistry[Revision](Table),
		summaries: projection.NewRegistry[Summary](Table),
	}
	if err := projection.RegisterEntity[Revision](s.revisions, func(r Revision) Revision { return r }); err != nil {
		return nil, err
	}
	if err := projection.RegisterEntity[Document](s.summaries, func(v Summary) Summary { return v }); err != nil {
		return nil, err
	}
	return s, nil
}

// Save stores doc as the version after doc.Version together with its
// revision. A zero Version creates the document. Returns the stored
// document, or ErrConflict if another writer got there first.
func (s *Store) Save(ctx context.Context, doc Document) (Document, error) {
	next := doc
	next.Version++

	current := ddbsdk.NewCreate(next)
	if doc.Version > 0 {
		current = ddbsdk.NewReplace(next).WithCondition(expr.Name("version").Equal(doc.Version))
	}
	tx := ddbsdk.NewTransactWrite(
		current,
		ddbsdk.NewCreate(Revision{ID: next.ID, Version: next.Version, Value: next.Value}),
	).WithGeneratedToken()

	err := s.c.TransactWrite(ctx, tx)
	if ddberr.IsConditionalCheckFailed(err) {
		return Document{}, fmt.Errorf("save %q at version %d: %w", doc.ID, doc.Version, ErrConflict)
	}
	if err != nil {
		return Document{}, err
	}
	return next, nil
}

func (s *Store) Get(ctx context.Context, id string) (Document, bool, error) {
	return ddbsdk.GetEntity[Document](ctx, s.c, ddbsdk.NewGet(documentKey(id)))
}

// History returns up to limit revisions of a document, newest first. A zero
// limit returns all of them.
func (s *Store) History(ctx context.Context, id string, limit int) ([]Revision, error) {
	q := ddbsdk.NewQuery(expr.Key(documentPartition(id), expr.BeginsWith("VERSION#"))).Descending()
	if limit == 0 {
		var out projection.Vec[Revision]
		if err := ddbsdk.QueryAggregate(ctx, s.c, q, s.revisions, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	page, err := s.c.Query(ctx, q.WithLimit(int32(limit)))
	if err != nil {
		return nil, err
	}
	var out projection.Vec[Revision]
	if err := projection.Reduce(s.revisions, &out, page.Items); err != nil {
		return nil, err
	}
	return out, nil
}

// Revision reads one version of a document.
func (s *Store) Revision(ctx context.Context, id string, version int) (Revision, bool, error) {
	return ddbsdk.GetProjection(ctx, s.c, s.revisions, ddbsdk.NewGet(revisionKey(id, version)))
}

// OwnedBy lists the documents of an owner, ordered by id.
func (s *Store) OwnedBy(ctx context.Context, owner string) ([]Summary, error) {
	q := ddbsdk.NewQuery(expr.PartitionOnly("OWNER#" + owner)).
		OnIndex(OwnerIndex.Name).
		WithProjection(s.summaries.Attributes()...)
	var out projection.Vec[Summary]
	if err := ddbsdk.QueryAggregate(ctx, s.c, q, s.summaries, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a document and all its revisions.
func (s *Store) Delete(ctx context.Context, id string) error {
	items, err := s.c.NewQueryPaginator(
		ddbsdk.NewQuery(expr.PartitionOnly(documentPartition(id))).
			WithProjection(Table.KeyDefinitions.AttributeNames()...),
	).All(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	batch := ddbsdk.NewBatchWrite()
	for _, item := range items {
		key, err := Table.ExtractPrimaryKey(item)
		if err != nil {
			return err
		}
		batch.Delete(key)
	}
	return s.c.BatchWrite(ctx, batch)
}
