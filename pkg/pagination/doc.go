// Package pagination walks the backend's paginated list endpoints.
//
// Every list endpoint answers with the same envelope:
//
//	{"count": 25, "next": "http://host/api/documents/?dataset=1&page=2", "previous": null, "results": [...]}
//
// A Fetcher performs exactly one GET and turns the envelope into a Page. A
// Walker drives a Fetcher page by page, strictly sequentially: the request
// for page n+1 is issued only after page n has been returned to the caller.
// A walk stops when the backend reports no next page (exhausted) or when the
// page budget is consumed. Budget Unbounded drains the collection.
//
// Bounded walk over the document list:
//
//	w := pagination.NewWalker[trainer.Document](pagination.NewHTTPFetcher[trainer.Document](c), "documents")
//	res, err := w.Collect(ctx, trainer.DocumentsURL(datasetID), 10)
//
// Lazy walk:
//
//	walk := w.Start(trainer.ICDCodesURL(ids), pagination.Unbounded)
//	for page := range walk.All(ctx) {
//		codes = append(codes, page.Items...)
//	}
//	if err := walk.Err(); err != nil { ... }
//
// A Walk is single use. Continuing past a budget cut is done by starting a
// fresh walk at the previous walk's Cursor.
package pagination
