package capture

import (
	"context"
	"fmt"

	"github.com/sharedcode/ctxn"
)

// errNoHandle is returned by every recording function when ctx carries no
// Handle — i.e. the call happened outside of a coordinator.Execute block.
var errNoHandle = fmt.Errorf("capture: no transaction handle bound to context")

// RecordInsert captures a single-row INSERT. No pre-image exists to snapshot
// since the row did not exist before.
func RecordInsert(ctx context.Context, datasource, entityClass, entityID string, info map[string]any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:     datasource,
		OperationType:  ctxn.OpInsert,
		EntityClass:    entityClass,
		EntityID:       entityID,
		AdditionalInfo: info,
	})
}

// RecordUpdate captures a single-row UPDATE together with preImage, the
// full pre-mutation row state needed to synthesize the inverse UPDATE later
// (spec.md §3 invariant (b)).
func RecordUpdate(ctx context.Context, datasource, entityClass, entityID string, preImage map[string]any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:    datasource,
		OperationType: ctxn.OpUpdate,
		EntityClass:   entityClass,
		EntityID:      entityID,
		Snapshot:      preImage,
	})
}

// RecordDelete captures a single-row DELETE together with the full deleted
// row, so compensation can INSERT it back unchanged.
func RecordDelete(ctx context.Context, datasource, entityClass, entityID string, deletedRow map[string]any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:    datasource,
		OperationType: ctxn.OpDelete,
		EntityClass:   entityClass,
		EntityID:      entityID,
		Snapshot:      deletedRow,
	})
}

// RecordBulkUpdate captures a multi-row UPDATE; affected carries the
// pre-mutation state of every row the predicate matched.
func RecordBulkUpdate(ctx context.Context, datasource, entityClass string, affected []map[string]any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:       datasource,
		OperationType:    ctxn.OpBulkUpdate,
		EntityClass:      entityClass,
		AffectedEntities: affected,
	})
}

// RecordBulkDelete captures a multi-row DELETE; affected carries the
// full pre-mutation state of every deleted row.
func RecordBulkDelete(ctx context.Context, datasource, entityClass string, affected []map[string]any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:       datasource,
		OperationType:    ctxn.OpBulkDelete,
		EntityClass:      entityClass,
		AffectedEntities: affected,
	})
}

// RecordNativeQuery captures a raw SQL statement the caller has already
// supplied an inverse for; inverseQuery and params are validated later by
// the compensator before ever being executed (spec.md §4.4 invariant (c)).
func RecordNativeQuery(ctx context.Context, datasource, query, inverseQuery string, params []any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:      datasource,
		OperationType:   ctxn.OpNativeQuery,
		InverseQuery:    inverseQuery,
		QueryParameters: params,
		AdditionalInfo:  map[string]any{"query": query},
	})
}

// RecordStoredProcedure captures a stored-procedure invocation and the name
// of the compensating procedure to call on rollback.
func RecordStoredProcedure(ctx context.Context, datasource, procedure, inverseProcedure string, params []any) error {
	return append_(ctx, ctxn.OperationRecord{
		Datasource:       datasource,
		OperationType:    ctxn.OpStoredProcedure,
		InverseProcedure: inverseProcedure,
		QueryParameters:  params,
		AdditionalInfo:   map[string]any{"procedure": procedure},
	})
}

func append_(ctx context.Context, op ctxn.OperationRecord) error {
	h, ok := FromContext(ctx)
	if !ok {
		return errNoHandle
	}
	return h.record_(op)
}

// Confirmed returns the operations captured so far on ctx's bound
// transaction, in sequence order, for use by the validator and the
// compensator once COLLECTING has ended.
func Confirmed(ctx context.Context) ([]ctxn.OperationRecord, error) {
	h, ok := FromContext(ctx)
	if !ok {
		return nil, errNoHandle
	}
	rec := h.Record()
	return append([]ctxn.OperationRecord(nil), rec.Operations...), nil
}
