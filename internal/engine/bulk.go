package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/pkg/models"
)

// ExecuteBulk runs a batch strictly in order. fail_fast aborts on the
// first error, marking every later operation skipped; completed
// operations stay committed since the remote service has no batch
// transaction. continue_on_error attempts every operation. Results
// carry the input index either way.
func (e *Engine) ExecuteBulk(ctx context.Context, batch models.BulkBatch) (*models.BulkResult, error) {
	switch batch.Mode {
	case models.FailFast, models.ContinueOnError:
	case "":
		batch.Mode = models.FailFast
	default:
		return nil, &BadRequestError{Reason: fmt.Sprintf("unknown bulk mode %q", batch.Mode)}
	}
	if len(batch.Operations) == 0 {
		return nil, &BadRequestError{Reason: "bulk batch has no operations"}
	}

	out := &models.BulkResult{
		Total:   len(batch.Operations),
		Results: make([]models.OperationResult, 0, len(batch.Operations)),
	}
	aborted := false
	for i, op := range batch.Operations {
		if aborted {
			out.Skipped++
			out.Results = append(out.Results, models.OperationResult{
				Index: i, Op: op.Op, Skipped: true,
			})
			continue
		}

		outcome, err := e.dispatch(ctx, op)
		if err != nil {
			det := Describe(err)
			log.Debug().Int("index", i).Str("op", string(op.Op)).Str("code", det.Code).Msg("bulk operation failed")
			out.Failed++
			out.Results = append(out.Results, models.OperationResult{
				Index: i, Op: op.Op, Error: &det,
			})
			if batch.Mode == models.FailFast {
				aborted = true
			}
			continue
		}
		out.Succeeded++
		out.Results = append(out.Results, models.OperationResult{
			Index: i, Op: op.Op, Success: true, Result: outcome.Result,
		})
	}
	return out, nil
}

// dispatch decodes one batch entry's args and invokes the operation.
func (e *Engine) dispatch(ctx context.Context, op models.Operation) (*Outcome, error) {
	switch op.Op {
	case models.OpUpsert:
		var args UpsertArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.Upsert(ctx, args, op.IdempotencyKey)
	case models.OpLink:
		var args LinkArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.Link(ctx, args, op.IdempotencyKey)
	case models.OpCreatePage:
		var args CreatePageArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.CreatePage(ctx, args, op.IdempotencyKey)
	case models.OpUpdatePage:
		var args UpdatePageArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.UpdatePage(ctx, args, op.IdempotencyKey)
	case models.OpCreateDatabase:
		var args CreateDatabaseArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.CreateDatabase(ctx, args, op.IdempotencyKey)
	case models.OpAppendBlocks:
		var args AppendBlocksArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		return e.AppendBlocks(ctx, args, op.IdempotencyKey)
	case models.OpQueryDatabase:
		var args QueryDatabaseArgs
		if err := decodeArgs(op.Args, &args); err != nil {
			return nil, err
		}
		page, err := e.QueryDatabase(ctx, args)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(page)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: raw}, nil
	default:
		return nil, &BadRequestError{Reason: fmt.Sprintf("unknown operation %q", op.Op)}
	}
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return &BadRequestError{Reason: "operation args are required"}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &BadRequestError{Reason: "args: " + err.Error()}
	}
	return nil
}
