package ingest

// State is a step of the ingestion state machine.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateValidated     State = "VALIDATED"
	StateQuotaReserved State = "QUOTA_RESERVED"
	StateExtracted     State = "EXTRACTED"
	StateChunked       State = "CHUNKED"
	StateEmbedded      State = "EMBEDDED"
	StateStored        State = "STORED"
	StateAccounted     State = "ACCOUNTED"
	StateDone          State = "DONE"
	StateRejected      State = "REJECTED"
	StateFailed        State = "FAILED"
)

// Stage names the work that moves the pipeline out of a state.
type Stage string

const (
	StageValidate Stage = "validate"
	StageReserve  Stage = "reserve"
	StageExtract  Stage = "extract"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
	StageAccount  Stage = "account"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StateFailed
}
