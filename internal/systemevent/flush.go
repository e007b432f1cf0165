package systemevent

// ProcessStatus tells the flush pipeline whether this SystemEvent's marker
// document should be emitted alongside the regular batch (Continue) or
// suppressed (Skip).
type ProcessStatus int

const (
	Continue ProcessStatus = iota
	Skip
)

// Disposition is the flush-policy row for one SystemEvent code.
type Disposition struct {
	UpdateManifest bool
	EmitMarker     bool
	// IsUpsert is meaningful only when EmitMarker is true: true means the
	// marker document carries the collection's live definition (a later
	// read returns it), false means the marker is itself a delete/tombstone
	// marker.
	IsUpsert  bool
	Replicate bool
}

// dispositions maps every code to its flush-policy row.
var dispositions = map[Code]Disposition{
	CreateCollection:           {UpdateManifest: true, EmitMarker: true, IsUpsert: true, Replicate: true},
	BeginDeleteCollection:      {UpdateManifest: true, EmitMarker: false, Replicate: true},
	DeleteCollectionSoft:       {UpdateManifest: true, EmitMarker: true, IsUpsert: false, Replicate: false},
	DeleteCollectionHard:       {UpdateManifest: true, EmitMarker: true, IsUpsert: false, Replicate: false},
	CollectionsSeparatorChanged: {UpdateManifest: true, EmitMarker: true, IsUpsert: true, Replicate: true},
}

// DispositionFor returns the flush-policy row for se. Panics on an
// unrecognized code: the disposition table is meant to be exhaustive over
// the closed Code enum, so a miss here is a programmer error, not a runtime
// condition.
func DispositionFor(se Code) Disposition {
	d, ok := dispositions[se]
	if !ok {
		panic("systemevent: no disposition registered for code")
	}
	return d
}

// Process returns whether se's marker document should be emitted in this
// batch. BeginDeleteCollection always suppresses its marker (it exists only
// to drive the manifest update); every other code continues.
func Process(se Code) ProcessStatus {
	if DispositionFor(se).EmitMarker {
		return Continue
	}
	return Skip
}

// BatchEvent pairs a SystemEvent's code with the bySeqno it was queued at,
// the minimum information SelectManifestUpdate needs to pick a
// winner among several SystemEvents queued in the same batch.
type BatchEvent struct {
	Code    Code
	BySeqno uint64
	// ManifestJSON is the serialized Collections::Manifest this event
	// carries, set by the engine above the core.
	ManifestJSON []byte
}

// SelectManifestUpdate picks the manifest update a commit actually writes:
// when several SystemEvents land in the same batch, only the one with the
// highest bySeqno is retained. Returns nil if events is empty.
func SelectManifestUpdate(events []BatchEvent) *BatchEvent {
	var winner *BatchEvent
	for i := range events {
		e := &events[i]
		if winner == nil || e.BySeqno > winner.BySeqno {
			winner = e
		}
	}
	return winner
}
