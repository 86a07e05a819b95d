// Package docrepo provides a generic repository over document databases.
//
// A Repository is bound to a client and a collection path template. The
// template may contain positional placeholders that are filled in on every
// call:
//
//	type Entity struct {
//	    ID   string `json:"id"`
//	    Name string `json:"name"`
//	}
//
//	func (e Entity) GetID() string { return e.ID }
//
//	repo := docrepo.New[Entity](client, "{0}/items/{1}/entities")
//	repo.CollectionPath("tenantId", "itemId") // "tenantId/items/itemId/entities"
//
// # Results
//
// Every operation returns a *Result that settles once with a value or an
// error:
//
//	if _, err := repo.Insert(ctx, e, tenantID, itemID).Await(ctx); err != nil {
//	    return err
//	}
//
// Client errors are wrapped with %w, so errors.Is keeps working against the
// driver's sentinel errors.
//
// # Transactions
//
// WithTx attaches a transaction owned by the caller. Writes issued through
// the returned repository are only recorded in the transaction; their
// results are settled on return and report Queued() == true. Reads go
// through the transaction's Get. Committing is the caller's job:
//
//	tx, _ := db.BeginTx(ctx)
//	orders.WithTx(tx).Insert(ctx, order, tenantID)
//	stock.WithTx(tx).Update(ctx, item, tenantID)
//	err := tx.Commit()
//
// # Paths
//
// ResolvePath leaves placeholders without a value in place. Repositories
// built with WithStrictPaths reject such paths with ErrUnresolvedPath
// before the client is called.
package docrepo
