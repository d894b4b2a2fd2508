// Package store implements the typed Session Store: a durable map from
// (customer_id, session_id, artifact_tag) to a serialized protocol
// artifact, backed by either an embedded SQLite database or a remote
// Postgres table-per-tag schema.
package store

import "reflect"

// Tag identifies the kind of artifact held in a store slot. Each Tag is
// bound at init time to exactly one Go type via bind/typeFor, so a get
// against tag T always deserializes as type(T) or fails loudly.
type Tag string

const (
	TagKeyGenFirstMsg       Tag = "KeyGenFirstMsg"
	TagCommWitness          Tag = "CommWitness"
	TagEcKeyPair            Tag = "EcKeyPair"
	TagPaillierKeyPair      Tag = "PaillierKeyPair"
	TagParty1Private        Tag = "Party1Private"
	TagParty2Public         Tag = "Party2Public"
	TagPDLDecommit          Tag = "PDLDecommit"
	TagAlpha                Tag = "Alpha"
	TagParty2PDLFirstMsg    Tag = "Party2PDLFirstMsg"
	TagCCKeyGenFirstMsg     Tag = "CCKeyGenFirstMsg"
	TagCCCommWitness        Tag = "CCCommWitness"
	TagCCEcKeyPair          Tag = "CCEcKeyPair"
	TagCC                   Tag = "CC"
	TagParty1MasterKey      Tag = "Party1MasterKey"
	TagEphEcKeyPair         Tag = "EphEcKeyPair"
	TagEphKeyGenFirstMsg    Tag = "EphKeyGenFirstMsg"
	TagPOS                  Tag = "POS"
	TagAbort                Tag = "Abort"
	TagRotateCommitMessage1 Tag = "RotateCommitMessage1"
	TagRotateRandom1        Tag = "RotateRandom1"
	TagRotateFirstMsg       Tag = "RotateFirstMsg"
	TagRotatePrivateNew     Tag = "RotatePrivateNew"
	TagRotatePdlDecom       Tag = "RotatePdlDecom"
	TagRotateParty2First    Tag = "RotateParty2First"
	TagRotateParty1Second   Tag = "RotateParty1Second"
	TagRotateAlpha          Tag = "RotateAlpha"
)

// registry binds each tag to the concrete type it must deserialize as.
// Populated by bind() calls in types.go's package init.
var registry = map[Tag]reflect.Type{}

func bind(tag Tag, zeroValue any) {
	registry[tag] = reflect.TypeOf(zeroValue)
}

// typeFor returns the Go type bound to tag, or false if the tag is unknown.
func typeFor(tag Tag) (reflect.Type, bool) {
	t, ok := registry[tag]
	return t, ok
}

// requireCustomerID reports whether a remote-backend row for this tag must
// be keyed by customer_id in addition to session_id. Per the data model,
// only Party1MasterKey and Abort require it.
func requireCustomerID(tag Tag) bool {
	return tag == TagParty1MasterKey || tag == TagAbort
}

// tableName returns the remote-backend physical table name for a tag,
// honoring the Party1MasterKey backward-compatibility exception.
func tableName(env string, tag Tag) string {
	if tag == TagParty1MasterKey {
		return env + "_Party1MasterKey"
	}
	return env + "-gotham-" + string(tag)
}

// Idify reproduces the local embedded-KV key encoding:
// customer_id + "_" + session_id + "_" + tag_name.
func Idify(customerID, sessionID string, tag Tag) string {
	return customerID + "_" + sessionID + "_" + string(tag)
}
