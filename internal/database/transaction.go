package database

// Batch transaction building for SurrealDB
//
// # AtomicBatch
//
// SurrealTransaction collects one statement per queued document write:
//
//	batch := NewAtomicBatch()
//	batch.Add(query1, vars1)
//	batch.Add(query2, vars2)
//	batch.Execute(ctx, db)  // All or nothing
//
// # TxBuilder
//
// Every statement binds the same variable names ($tb, $id, $data), so the
// batch runs them through a TxBuilder, which namespaces them before the
// statements are joined:
//
//	tb := NewTxBuilder()
//	tb.Add("UPSERT type::thing($tb, $id) CONTENT $data", vars1)  // $id -> $v2_id
//	tb.Add("DELETE type::thing($tb, $id)", vars2)                 // $id -> $v4_id
//	ExecuteTransaction(ctx, db, tb)
//
// IMPORTANT: This is BATCH-BASED. Statements accumulate and execute
// together at commit time. There is no isolation between Add() calls.

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// Querier executes a query and returns its results.
type Querier interface {
	Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error)
}

// TxBuilder builds atomic transaction queries with automatic variable namespacing.
// This prevents variable name collisions when combining statements.
//
// Example: Two statements both using $id get namespaced to $v1_id and $v2_id.
type TxBuilder struct {
	statements []string
	vars       map[string]interface{}
	varCounter uint64
}

// NewTxBuilder creates a new transaction builder
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{
		statements: make([]string, 0),
		vars:       make(map[string]interface{}),
	}
}

// Add adds a statement to the transaction, namespacing variables to avoid collisions
// Returns the namespaced variable map for reference
func (tb *TxBuilder) Add(query string, vars map[string]interface{}) map[string]string {
	varMapping := make(map[string]string)
	newQuery := query

	// Sorted for stable numbering.
	names := make([]string, 0, len(vars))
	for varName := range vars {
		names = append(names, varName)
	}
	sort.Strings(names)

	for _, varName := range names {
		counter := atomic.AddUint64(&tb.varCounter, 1)
		newVarName := fmt.Sprintf("v%d_%s", counter, varName)

		pattern := regexp.MustCompile(`\$` + regexp.QuoteMeta(varName) + `\b`)
		newQuery = pattern.ReplaceAllLiteralString(newQuery, "$"+newVarName)

		tb.vars[newVarName] = vars[varName]
		varMapping[varName] = newVarName
	}

	tb.statements = append(tb.statements, newQuery)
	return varMapping
}

// AddRaw adds a raw statement without variable substitution
func (tb *TxBuilder) AddRaw(query string) {
	tb.statements = append(tb.statements, query)
}

// Len returns the number of statements added so far.
func (tb *TxBuilder) Len() int {
	return len(tb.statements)
}

// Build returns the complete transaction query and merged variables
func (tb *TxBuilder) Build() (string, map[string]interface{}) {
	if len(tb.statements) == 0 {
		return "", nil
	}

	// Wrap in transaction block
	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")
	for _, stmt := range tb.statements {
		sb.WriteString(stmt)
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			sb.WriteString(";")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("COMMIT TRANSACTION;")

	return sb.String(), tb.vars
}

// ExecuteTransaction executes a transaction built with TxBuilder
func ExecuteTransaction(ctx context.Context, db Querier, tb *TxBuilder) ([]interface{}, error) {
	query, vars := tb.Build()
	if query == "" {
		return nil, nil
	}

	return db.Query(ctx, query, vars)
}

// AtomicBatch provides a simpler API for batch operations that should be atomic
type AtomicBatch struct {
	queries []batchQuery
}

type batchQuery struct {
	query string
	vars  map[string]interface{}
}

// NewAtomicBatch creates a new atomic batch
func NewAtomicBatch() *AtomicBatch {
	return &AtomicBatch{
		queries: make([]batchQuery, 0),
	}
}

// Add adds a query to the batch
func (ab *AtomicBatch) Add(query string, vars map[string]interface{}) *AtomicBatch {
	ab.queries = append(ab.queries, batchQuery{query: query, vars: vars})
	return ab
}

// Build namespaces the queued queries and wraps them in one transaction.
func (ab *AtomicBatch) Build() (string, map[string]interface{}) {
	return ab.builder().Build()
}

// Execute runs all queries as a single transaction
func (ab *AtomicBatch) Execute(ctx context.Context, db Querier) error {
	if len(ab.queries) == 0 {
		return nil
	}

	_, err := ExecuteTransaction(ctx, db, ab.builder())
	return err
}

// Len returns the number of queries in the batch
func (ab *AtomicBatch) Len() int {
	return len(ab.queries)
}

func (ab *AtomicBatch) builder() *TxBuilder {
	tb := NewTxBuilder()
	for _, q := range ab.queries {
		tb.Add(q.query, q.vars)
	}
	return tb
}
