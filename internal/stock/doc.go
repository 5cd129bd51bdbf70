// Package stock defines the per-length timber stock tally shared between
// docket stations.
//
// A tally line is identified by a composite Key built from the timber
// treatment, section size and length (for example "treated-90x45mm-2.4m").
// Each line holds two pack counts:
//   - Runnable: packs that can go through the machinery as-is ("can run")
//   - NonRunnable: packs that need racking or extra handling ("can't run")
//
// Both counts are never negative. Adjustments clamp at zero rather than
// failing, so a stray decrement on an empty line is harmless.
//
// The package also provides the two serialised forms of a whole tally:
//   - canonical JSON plus a BLAKE3 keyed digest, used as a revision tag
//   - deterministic CBOR, used for history snapshots
package stock
