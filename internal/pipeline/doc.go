// Package pipeline provides the guarded streaming pipeline.
//
// One invocation runs through two screening phases around a token stream:
//
//	START ──input blocked──▶ INPUT_GATED_OUT
//	  │
//	  ▼
//	STREAMING ──stream ends──▶ OUTPUT_GATED ──▶ DONE
//
// # Phases
//
//   - Input gate: the user prompt is screened before any agent is created.
//     A block produces a single fragment carrying the gate's message and the
//     agent is never called.
//   - Streaming: the system prompt is resolved, an agent session is opened and
//     every raw stream event is normalised to text. Text fragments are sent
//     to the caller as soon as they arrive and appended to an accumulator.
//   - Output gate: the full accumulated text is screened. A block appends a
//     warning fragment; tokens already delivered are not retracted.
//
// Screening fails open and prompt resolution falls back to a default, so
// neither can abort an invocation. A failure inside the agent stream is
// delivered as a final error fragment. When the caller cancels mid-stream
// the partial text is discarded and the output gate is skipped.
package pipeline
