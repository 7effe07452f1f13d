// Package core defines the boundary types shared by the query layer and the stores behind it
package core

import (
	"context"

	"github.com/theory-cloud/tablequery/pkg/blob"
)

// WriteMode selects the precondition and payload semantics of a single write
type WriteMode int

const (
	// ModeAdd inserts a new entity and fails with ErrAlreadyExists when the key is taken
	ModeAdd WriteMode = iota
	// ModeReplace overwrites an existing entity whose ETag matches
	ModeReplace
	// ModeMerge merges the record's properties into an existing entity whose ETag matches
	ModeMerge
	// ModeUpsert inserts or overwrites without a precondition
	ModeUpsert
	// ModeUpsertMerge inserts or merges without a precondition
	ModeUpsertMerge
)

var writeModeNames = [...]string{"Add", "Replace", "Merge", "Upsert", "UpsertMerge"}

// String returns the mode name
func (m WriteMode) String() string {
	if int(m) >= 0 && int(m) < len(writeModeNames) {
		return writeModeNames[m]
	}
	return "Unknown"
}

// Conditional reports whether the mode carries an ETag precondition
func (m WriteMode) Conditional() bool {
	return m == ModeReplace || m == ModeMerge
}

// ActionType identifies one operation inside a transactional submission
type ActionType int

const (
	ActionAdd ActionType = iota
	ActionReplace
	ActionMerge
	ActionUpsert
	ActionUpsertMerge
	ActionDelete
)

var actionNames = [...]string{"Add", "Replace", "Merge", "Upsert", "UpsertMerge", "Delete"}

// String returns the action name
func (a ActionType) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "Unknown"
}

// Mode returns the write mode matching a non-delete action
func (a ActionType) Mode() WriteMode {
	switch a {
	case ActionReplace:
		return ModeReplace
	case ActionMerge:
		return ModeMerge
	case ActionUpsert:
		return ModeUpsert
	case ActionUpsertMerge:
		return ModeUpsertMerge
	default:
		return ModeAdd
	}
}

// Action is one entry of a transactional submission. Record.ETag carries the
// concurrency token for Replace, Merge and Delete; an empty token skips the check.
type Action struct {
	Record *Record
	Type   ActionType
}

// Clause is one server-side comparison: Field Op Value. Op is one of = > >= < <=.
type Clause struct {
	Value any
	Field string
	Op    string
}

// QueryRequest describes one paged query against an EntityStore
type QueryRequest struct {
	// Filter is the server filter string; empty selects everything
	Filter string
	// Continuation resumes a previous page
	Continuation string
	// Clauses is the structured form of Filter, joined by and
	Clauses []Clause
	// Fields restricts the returned properties; nil returns all of them
	Fields []string
	// PageSize caps the records of one page; 0 leaves it to the store
	PageSize int
	// Limit caps the total records the caller intends to consume; 0 means no cap
	Limit int
}

// Page is one page of query results
type Page struct {
	Continuation string
	Records      []*Record
}

// Capabilities describes the transactional limits of a store
type Capabilities struct {
	// MaxBatchSize is the maximum number of actions per transaction
	MaxBatchSize int
	// SinglePartitionTransactions requires every action of a transaction to share a partition key
	SinglePartitionTransactions bool
}

// EntityStore is the remote key-partitioned entity store
type EntityStore interface {
	// Get returns the entity or ErrItemNotFound. fields restricts the returned properties.
	Get(ctx context.Context, partitionKey, rowKey string, fields []string) (*Record, error)

	// Write stores rec according to mode and returns the stored record with its new ETag
	Write(ctx context.Context, rec *Record, mode WriteMode) (*Record, error)

	// Delete removes an entity. A missing entity is not an error; a non-empty etag must match.
	Delete(ctx context.Context, partitionKey, rowKey, etag string) error

	// Query returns one page of records matching req
	Query(ctx context.Context, req QueryRequest) (*Page, error)

	// Submit applies actions atomically
	Submit(ctx context.Context, actions []Action) error

	// Capabilities reports the store's transactional limits
	Capabilities() Capabilities
}

// Serializer converts entities to and from bytes
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Connector opens the stores behind named tables and containers
type Connector interface {
	EntityStore(ctx context.Context, table string) (EntityStore, error)
	Container(ctx context.Context, name string) (blob.Container, error)
}
