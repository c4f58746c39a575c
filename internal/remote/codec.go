package remote

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
)

// DomainDocument prefixes document digests. The version suffix leaves
// room for a later digest layout.
const DomainDocument = "rxvault/document/v1"

// ErrMalformed marks a document that cannot be turned into an entity.
var ErrMalformed = errors.New("malformed document")

// Digest computes the content digest of a document:
// SHA256(domain 0x00 collection 0x00 id 0x00 deleted 0x00 fields).
func Digest(c model.Collection, id string, deleted bool, fields []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{
		[]byte(DomainDocument),
		[]byte(c),
		[]byte(id),
		{deletedFlag(deleted)},
	} {
		h.Write(part)
		h.Write([]byte{0x00})
	}
	h.Write(fields)
	return hex.EncodeToString(h.Sum(nil))
}

func deletedFlag(deleted bool) byte {
	if deleted {
		return '1'
	}
	return '0'
}

// Encode turns an outbox delta into an unversioned document.
func Encode(d model.Delta) (Document, error) {
	doc := Document{
		Collection: d.Collection,
		ID:         d.EntityID,
		Schema:     SchemaVersion,
	}
	switch d.Op {
	case model.OpPut:
		if d.Payload == "" {
			return Document{}, fmt.Errorf("encode %s/%s: put without payload", d.Collection, d.EntityID)
		}
		doc.Fields = json.RawMessage(d.Payload)
	case model.OpDelete:
		doc.Deleted = true
	default:
		return Document{}, fmt.Errorf("encode %s/%s: unknown op %q", d.Collection, d.EntityID, d.Op)
	}
	doc.Digest = Digest(doc.Collection, doc.ID, doc.Deleted, doc.Fields)
	return doc, nil
}

// Verify checks the schema version and digest of doc.
func Verify(doc Document) error {
	if doc.Schema != SchemaVersion {
		return fmt.Errorf("%w: %s/%s has schema %d, want %d",
			ErrMalformed, doc.Collection, doc.ID, doc.Schema, SchemaVersion)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: %s document without id", ErrMalformed, doc.Collection)
	}
	if _, err := model.ParseCollection(string(doc.Collection)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Deleted && len(doc.Fields) > 0 {
		return fmt.Errorf("%w: %s/%s is deleted but carries fields", ErrMalformed, doc.Collection, doc.ID)
	}
	if want := Digest(doc.Collection, doc.ID, doc.Deleted, doc.Fields); doc.Digest != want {
		return fmt.Errorf("%w: %s/%s digest mismatch", ErrMalformed, doc.Collection, doc.ID)
	}
	return nil
}

// Decode turns a put document into the entity it describes. Unknown
// fields, a mismatched id and deleted documents are errors wrapping
// ErrMalformed.
func Decode(doc Document) (model.Entity, error) {
	if err := Verify(doc); err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, fmt.Errorf("%w: %s/%s is a delete", ErrMalformed, doc.Collection, doc.ID)
	}

	var (
		e   model.Entity
		err error
	)
	switch doc.Collection {
	case model.CollectionMedicines:
		e, err = decodeAs[model.Medicine](doc.Fields)
	case model.CollectionPrescriptions:
		e, err = decodeAs[model.Prescription](doc.Fields)
	case model.CollectionTagBindings:
		e, err = decodeAs[model.TagBinding](doc.Fields)
	case model.CollectionEmployees:
		e, err = decodeAs[model.Employee](doc.Fields)
	case model.CollectionPatients:
		e, err = decodeAs[model.Patient](doc.Fields)
	default:
		err = fmt.Errorf("no decoder")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, doc.Collection, doc.ID, err)
	}
	if e.EntityID() != doc.ID {
		return nil, fmt.Errorf("%w: %s/%s carries id %q", ErrMalformed, doc.Collection, doc.ID, e.EntityID())
	}
	return e, nil
}

func decodeAs[T model.Entity](fields []byte) (model.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader(fields))
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after fields")
	}
	return v, nil
}
