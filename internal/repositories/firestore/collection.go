package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// collection is a typed, session-aware view of one Firestore collection.
type collection[D any] struct {
	provider *pfirestore.Provider
	name     string
	entity   string
}

func newCollection[D any](provider *pfirestore.Provider, name, entity string) collection[D] {
	return collection[D]{provider: provider, name: name, entity: entity}
}

func (c collection[D]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, repositories.NewUnavailable(c.name, err)
	}
	return client.Collection(c.name), nil
}

func (c collection[D]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c collection[D]) get(ctx context.Context, op, id string) (D, error) {
	var zero D
	ref, err := c.doc(ctx, id)
	if err != nil {
		return zero, err
	}

	var snap *firestore.DocumentSnapshot
	if session, ok := pfirestore.SessionFrom(ctx); ok {
		if data, ok := session.Pending(ref); ok {
			return data.(D), nil
		}
		snap, err = session.Tx().Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return zero, c.classify(op, id, err)
	}
	return c.decode(op, snap)
}

// getAll returns the documents that exist among ids.
func (c collection[D]) getAll(ctx context.Context, op string, ids []string) (map[string]D, error) {
	result := make(map[string]D, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, repositories.NewUnavailable(op, err)
	}

	session, inTx := pfirestore.SessionFrom(ctx)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref := client.Collection(c.name).Doc(id)
		if inTx {
			if data, ok := session.Pending(ref); ok {
				result[id] = data.(D)
				continue
			}
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return result, nil
	}

	var snaps []*firestore.DocumentSnapshot
	if inTx {
		snaps, err = session.Tx().GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, c.classify(op, "", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := c.decode(op, snap)
		if err != nil {
			return nil, err
		}
		result[snap.Ref.ID] = doc
	}
	return result, nil
}

// create fails with a conflict when the document exists in Firestore or in the session buffer.
func (c collection[D]) create(ctx context.Context, op, id string, doc D) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	return c.provider.RunTransaction(ctx, func(ctx context.Context, session *pfirestore.Session) error {
		if _, ok := session.Pending(ref); ok {
			return repositories.NewConflict(op, c.entity, id, nil)
		}
		if _, err := session.Tx().Get(ref); err == nil {
			return repositories.NewConflict(op, c.entity, id, nil)
		} else if !pfirestore.IsNotFound(err) {
			return c.classify(op, id, err)
		}
		if err := session.Create(ref, doc); err != nil {
			return c.classify(op, id, err)
		}
		return nil
	})
}

// set writes the document unconditionally.
func (c collection[D]) set(ctx context.Context, id string, doc D) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	return c.provider.RunTransaction(ctx, func(ctx context.Context, session *pfirestore.Session) error {
		session.Set(ref, doc)
		return nil
	})
}

// update replaces an existing document and reports not found otherwise.
func (c collection[D]) update(ctx context.Context, op, id string, doc D) error {
	return c.provider.RunTransaction(ctx, func(ctx context.Context, _ *pfirestore.Session) error {
		if _, err := c.get(ctx, op, id); err != nil {
			return err
		}
		return c.set(ctx, id, doc)
	})
}

// query runs q and, inside a transaction, overlays buffered documents. match must mirror the
// query's filters so buffered documents are included or dropped consistently.
func (c collection[D]) query(ctx context.Context, op string, q firestore.Query, idOf func(D) string, match func(D) bool) ([]D, error) {
	session, inTx := pfirestore.SessionFrom(ctx)
	var iter *firestore.DocumentIterator
	if inTx {
		iter = session.Tx().Documents(q)
	} else {
		iter = q.Documents(ctx)
	}
	defer iter.Stop()

	var (
		docs  []D
		index = make(map[string]int)
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, c.classify(op, "", err)
		}
		doc, err := c.decode(op, snap)
		if err != nil {
			return nil, err
		}
		index[snap.Ref.ID] = len(docs)
		docs = append(docs, doc)
	}
	if !inTx {
		return docs, nil
	}

	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	dropped := make(map[string]bool)
	for _, pending := range session.PendingIn(coll) {
		doc := pending.Data.(D)
		pos, seen := index[idOf(doc)]
		switch {
		case match(doc) && seen:
			docs[pos] = doc
		case match(doc):
			index[idOf(doc)] = len(docs)
			docs = append(docs, doc)
		case seen:
			dropped[idOf(doc)] = true
		}
	}
	if len(dropped) == 0 {
		return docs, nil
	}
	kept := docs[:0]
	for _, doc := range docs {
		if !dropped[idOf(doc)] {
			kept = append(kept, doc)
		}
	}
	return kept, nil
}

func (c collection[D]) decode(op string, snap *firestore.DocumentSnapshot) (D, error) {
	var doc D
	if err := snap.DataTo(&doc); err != nil {
		return doc, repositories.Wrap(op, fmt.Errorf("decode %s %s: %w", c.entity, snap.Ref.ID, err))
	}
	return doc, nil
}

func (c collection[D]) classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *repositories.StoreError
	if errors.As(err, &repoErr) {
		return err
	}
	if pfirestore.IsNotFound(err) {
		return repositories.NewNotFound(op, c.entity, id)
	}
	wrapped := pfirestore.WrapError(op, err)
	var fsErr *pfirestore.Error
	if errors.As(wrapped, &fsErr) {
		switch {
		case fsErr.IsConflict():
			return repositories.NewConflict(op, c.entity, id, err)
		case fsErr.IsUnavailable():
			return repositories.NewUnavailable(op, err)
		}
	}
	return repositories.Wrap(op, wrapped)
}
