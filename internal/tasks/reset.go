package tasks

import (
	"context"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
)

// resetOrder deletes children before their parents.
var resetOrder = []string{
	KindCase.String(),
	KindOrderItem.String(),
	KindOrder.String(),
	KindQuoteLineItem.String(),
	KindQuote.String(),
	KindOpportunity.String(),
	KindContact.String(),
	"AccountRelationship",
	KindAccount.String(),
}

// ResetResult counts what a reset removed and kept, per record type.
type ResetResult struct {
	Deleted   map[string]int
	Protected map[string]int
	Failures  []Failure
}

// ResetOrder returns the record types a reset deletes, in deletion order.
func ResetOrder() []string {
	return append([]string(nil), resetOrder...)
}

// Reset deletes migrated record types from the target, children first.
//
// Contacts tied to portal users and the accounts of those contacts are kept, since the target
// refuses to delete them. Delete failures are collected and do not stop the reset.
func (e *Engine) Reset(ctx context.Context, progress chan<- ProgressUpdate) (*ResetResult, error) {
	res := &ResetResult{Deleted: make(map[string]int), Protected: make(map[string]int)}

	protected, err := e.protectedRecords(ctx)
	if err != nil {
		return nil, err
	}

	for i, recordType := range resetOrder {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		records, err := e.target.Query(ctx, recordType, services.Query{})
		if err != nil {
			res.Failures = append(res.Failures, Failure{Type: recordType, Stage: StageQuery, Reason: err.Error()})
			e.logger.Error("failed to list records for reset", "type", recordType, "err", err)
			continue
		}

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if protected[recordType][rec.ID] {
				res.Protected[recordType]++
				continue
			}
			if err := e.target.Delete(ctx, recordType, rec.ID); err != nil {
				res.Failures = append(res.Failures, Failure{Type: recordType, SourceID: rec.ID, Stage: "delete", Reason: err.Error()})
				e.logger.Warn("failed to delete record", "type", recordType, "id", rec.ID, "err", err)
				continue
			}
			res.Deleted[recordType]++
		}

		e.logger.Info("record type reset", "type", recordType, "deleted", res.Deleted[recordType], "protected", res.Protected[recordType])
		e.sendProgress(progress, resetUpdate(i+1, len(resetOrder), recordType, res.Deleted[recordType], res.Protected[recordType]))
	}
	return res, nil
}

// protectedRecords collects portal-user contacts and their accounts, keyed by type then id.
func (e *Engine) protectedRecords(ctx context.Context) (map[string]map[string]bool, error) {
	contactType, accountType := KindContact.String(), KindAccount.String()
	protected := map[string]map[string]bool{
		contactType: {},
		accountType: {},
	}

	users, err := e.target.Query(ctx, "User", services.Query{Conditions: []services.Condition{services.WhereNot("ContactId", nil)}})
	if err != nil {
		return nil, fmt.Errorf("failed to query portal users: %w", err)
	}

	var contactIDs []string
	for _, u := range users {
		id := u.Reference("ContactId")
		if id == "" || protected[contactType][id] {
			continue
		}
		protected[contactType][id] = true
		contactIDs = append(contactIDs, id)
	}
	if len(contactIDs) == 0 {
		return protected, nil
	}

	contacts, err := e.target.Query(ctx, contactType, services.Query{Conditions: []services.Condition{services.WhereIn("Id", contactIDs)}})
	if err != nil {
		return nil, fmt.Errorf("failed to query portal contacts: %w", err)
	}
	for _, c := range contacts {
		if id := c.Reference("AccountId"); id != "" {
			protected[accountType][id] = true
		}
	}
	e.logger.Info("portal users protected from reset", "contacts", len(protected[contactType]), "accounts", len(protected[accountType]))
	return protected, nil
}
