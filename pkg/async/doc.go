// Package async runs bounded batches of work with panic recovery.
//
//	results, errs := async.Map(ctx, orgIDs, 4, func(ctx context.Context, id string) (*conversion.SagaResult, error) {
//		return orchestrator.Convert(ctx, conversion.ConvertRequest{OrganizationID: id}), nil
//	})
//
// Results come back in input order, whatever order the calls finish in.
package async
